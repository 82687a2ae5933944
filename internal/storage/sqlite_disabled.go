//go:build !sqlite

package storage

import (
	"errors"

	"github.com/simcoreservers/nutetra/pkg/logx"
)

func openSQLite(Config, logx.Logger) (Store, error) {
	return nil, errors.New("sqlite driver not compiled in (build with -tags sqlite)")
}
