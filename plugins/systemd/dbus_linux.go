//go:build linux

package systemd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

type dbusManager struct {
	conn *dbus.Conn
}

func newDBusManager(ctx context.Context) (Manager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	return &dbusManager{conn: conn}, nil
}

func (m *dbusManager) Close() error {
	m.conn.Close()
	return nil
}

func (m *dbusManager) Status(ctx context.Context, name string) (Status, error) {
	unit := name + ".service"
	units, err := m.conn.ListUnitsByPatternsContext(ctx, nil, []string{unit})
	if err == nil {
		for _, u := range units {
			if u.Name != unit {
				continue
			}
			st := Status{Name: name, Active: u.ActiveState, SubState: u.SubState, LoadState: u.LoadState, Description: u.Description}
			if !st.Found() {
				return notFound(name), nil
			}
			if props, err := m.conn.GetUnitPropertiesContext(ctx, unit); err == nil {
				key := "InactiveEnterTimestamp"
				if st.Active == "active" {
					key = "ActiveEnterTimestamp"
				}
				st.Since = timestamp(props, key)
			}
			return st, nil
		}
	}

	props, err := m.conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchUnit") {
			return notFound(name), nil
		}
		return Status{}, fmt.Errorf("status %s: %w", name, err)
	}
	st := Status{
		Name:        name,
		Active:      stringProp(props, "ActiveState"),
		SubState:    stringProp(props, "SubState"),
		LoadState:   stringProp(props, "LoadState"),
		Description: stringProp(props, "Description"),
		Since:       timestamp(props, "StateChangeTimestamp"),
	}
	if !st.Found() {
		return notFound(name), nil
	}
	return st, nil
}

func (m *dbusManager) Start(ctx context.Context, name string) error {
	_, err := m.conn.StartUnitContext(ctx, name+".service", "replace", nil)
	return wrap("start", name, err)
}

func (m *dbusManager) Stop(ctx context.Context, name string) error {
	_, err := m.conn.StopUnitContext(ctx, name+".service", "replace", nil)
	return wrap("stop", name, err)
}

func (m *dbusManager) Restart(ctx context.Context, name string) error {
	_, err := m.conn.RestartUnitContext(ctx, name+".service", "replace", nil)
	return wrap("restart", name, err)
}

func wrap(action, name string, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, name, err)
	}
	return nil
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// timestamp reads a systemd microsecond timestamp property.
func timestamp(props map[string]any, key string) time.Time {
	us, ok := props[key].(uint64)
	if !ok || us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(us))
}
