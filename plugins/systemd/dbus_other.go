//go:build !linux

package systemd

import "context"

func newDBusManager(ctx context.Context) (Manager, error) { return nil, ErrUnsupported }
