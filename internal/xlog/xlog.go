// Package xlog centralizes structured logging for the pipeline. Every
// layer logs through a component-scoped logger so a single mount's log
// stream can be filtered by which layer (loader, input, morph, output,
// cache) produced an entry.
package xlog

import "github.com/sirupsen/logrus"

var base = logrus.StandardLogger()

// Component returns a logger scoped to a single pipeline layer.
func Component(name string) *logrus.Entry {
	return base.WithField("component", name)
}

// SetOutput lets cmd/xmountctl redirect all logging, e.g. to a file
// alongside the mount point.
func SetOutput(l *logrus.Logger) {
	base = l
}
