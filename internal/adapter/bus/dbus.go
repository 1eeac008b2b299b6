package bus

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/cache"
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	VICTRON_SERVICE_PREFIX = "com.victronenergy."
	BUS_ITEM_INTERFACE     = "com.victronenergy.BusItem"
)

// singleton services are addressed without instance suffix
var singletonServices = map[string]bool{
	"settings": true,
	"system":   true,
}

// DBus polls the Victron BusItem objects of the configured sources into the
// cache.
type DBus struct {
	*cache.Store
	conn     *dbus.Conn
	sources  []string
	interval time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	names map[string]string
}

var _ port.ReadCache = (*DBus)(nil)

func NewDBus(conn *dbus.Conn, store *cache.Store, sources []string, interval time.Duration, logger *zap.Logger) *DBus {
	return &DBus{
		Store:    store,
		conn:     conn,
		sources:  sources,
		interval: interval,
		logger:   logger.With(zap.String("bus", "dbus")),
		names:    map[string]string{},
	}
}

func (d *DBus) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.Poll()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll reads every value of every source. Sources that cannot be read are
// removed from the cache so the engine sees them as missing.
func (d *DBus) Poll() {
	for _, source := range d.sources {
		name, err := d.resolve(source)
		if err != nil {
			d.logger.Debug("source not on the bus", zap.String("source", source), zap.Error(err))
			d.DeleteSource(source)
			continue
		}
		var items map[string]dbus.Variant
		err = d.conn.Object(name, "/").Call(BUS_ITEM_INTERFACE+".GetValue", 0).Store(&items)
		if err != nil {
			d.logger.Warn("could not read source", zap.String("source", source), zap.Error(err))
			d.forget(source)
			d.DeleteSource(source)
			continue
		}
		values := make(map[cache.Key]any, len(items))
		for path, item := range items {
			values[cache.Key{Source: source, Path: "/" + strings.TrimPrefix(path, "/")}] = VariantValue(item)
		}
		d.PutAll(values)
	}
}

func (d *DBus) Set(source, path string, value any) error {
	name, err := d.resolve(source)
	if err != nil {
		return err
	}
	var rc int32
	err = d.conn.Object(name, dbus.ObjectPath(path)).
		Call(BUS_ITEM_INTERFACE+".SetValue", 0, dbus.MakeVariant(value)).Store(&rc)
	if err != nil {
		return fmt.Errorf("dbus write %s%s: %w", source, path, err)
	}
	if rc != 0 {
		return fmt.Errorf("dbus write %s%s rejected with code %d", source, path, rc)
	}
	d.Put(source, path, value)
	return nil
}

// resolve finds the bus name of a source like "battery/512".
func (d *DBus) resolve(source string) (string, error) {
	d.mu.Lock()
	name, ok := d.names[source]
	d.mu.Unlock()
	if ok {
		return name, nil
	}

	service, instance, err := ParseSource(source)
	if err != nil {
		return "", err
	}
	if singletonServices[service] {
		name = VICTRON_SERVICE_PREFIX + service
	} else {
		var names []string
		if err := d.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
			return "", err
		}
		name, err = d.findInstance(names, service, instance)
		if err != nil {
			return "", err
		}
	}

	d.mu.Lock()
	d.names[source] = name
	d.mu.Unlock()
	return name, nil
}

func (d *DBus) findInstance(names []string, service string, instance int) (string, error) {
	prefix := VICTRON_SERVICE_PREFIX + service + "."
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		var v dbus.Variant
		err := d.conn.Object(name, "/DeviceInstance").Call(BUS_ITEM_INTERFACE+".GetValue", 0).Store(&v)
		if err != nil {
			continue
		}
		if i, ok := domain.AsFloat(VariantValue(v)); ok && int(i) == instance {
			return name, nil
		}
	}
	return "", fmt.Errorf("no %s service with instance %d", service, instance)
}

func (d *DBus) forget(source string) {
	d.mu.Lock()
	delete(d.names, source)
	d.mu.Unlock()
}

// ParseSource splits "battery/512" into service and device instance.
func ParseSource(source string) (string, int, error) {
	service, instance, found := strings.Cut(source, "/")
	if !found || service == "" {
		return "", 0, fmt.Errorf("invalid source %q", source)
	}
	i, err := strconv.Atoi(instance)
	if err != nil {
		return "", 0, fmt.Errorf("invalid instance in source %q", source)
	}
	return service, i, nil
}

// VariantValue unwraps a BusItem value. Victron publishes invalid values as
// an empty array, which becomes nil.
func VariantValue(v dbus.Variant) any {
	value := v.Value()
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice && rv.Len() == 0 {
		return nil
	}
	return value
}
