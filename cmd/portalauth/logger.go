package main

import (
	"io"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

func newLogger(level string, out io.Writer) *glog.BaseLogger {
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName("portalauth"),
		glog.WithAddSource(false),
		glog.WithWriter(out),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

// GetLogger returns the named child logger handed to one collaborator.
func (a *App) GetLogger(name string) auth.Logger {
	return a.logger.GetLogger(name)
}
