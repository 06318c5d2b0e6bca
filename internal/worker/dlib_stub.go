//go:build !dlib

package worker

import "errors"

func newDlibEngine(Config) (Engine, error) {
	return nil, errors.New("dlib backend not compiled in; rebuild with -tags dlib")
}
