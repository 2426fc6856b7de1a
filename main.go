package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/neardns/neardns/coremain"
	"github.com/neardns/neardns/pkg/mlog"
)

func main() {
	if err := coremain.Run(); err != nil {
		mlog.L().Error("exited", zap.Error(err))
		os.Exit(1)
	}
}
