// pkg/meta/store.go

package meta

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"AveGrid/pkg/utils"

	"github.com/pkg/errors"
)

var logger = utils.GetLogger("avegrid")

var (
	// ErrNoRecord is returned by FindOne when nothing matches.
	ErrNoRecord = errors.New("no matching record")
	// ErrDuplicateKey is returned when an insert violates a unique index.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrReadOnly is returned by mutations on a read-only client.
	ErrReadOnly = errors.New("store is read-only")
)

// Record is a single stored document.
type Record map[string]interface{}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Collection names a group of records, e.g. "fs.files".
type Collection string

// Index declares a secondary index. Records are grouped by the values of
// Fields and ordered inside a group by the numeric field Order.
type Index struct {
	Name   string
	Fields []string
	Order  string
	Unique bool // unique on Fields+Order
}

func (idx *Index) covers(r Record) bool {
	for _, f := range idx.Fields {
		if _, ok := r[f]; !ok {
			return false
		}
	}
	if idx.Order != "" {
		if _, ok := toNumber(r[idx.Order]); !ok {
			return false
		}
	}
	return true
}

// Store is the record store shared by the file bucket and its chunks.
type Store interface {
	Name() string
	EnsureIndex(ctx context.Context, coll Collection, idx Index) error
	InsertRecord(ctx context.Context, coll Collection, r Record) error
	FindOne(ctx context.Context, coll Collection, f Filter) (Record, error)
	FindMany(ctx context.Context, coll Collection, f Filter, opts *FindOptions) ([]Record, error)
	// UpdateOne sets the fields of `set` on the first record matching f.
	UpdateOne(ctx context.Context, coll Collection, f Filter, set Record) (bool, error)
	DeleteMany(ctx context.Context, coll Collection, f Filter) (int64, error)
}

type Creator func(driver, addr string, conf *Config) (Store, error)

var engines = make(map[string]Creator)

// Register makes an engine available under the URL scheme `name`.
func Register(name string, register Creator) {
	engines[name] = register
}

// NewClient connects to the store described by uri, e.g.
// redis://localhost:6379/1 or mem://.
func NewClient(uri string, conf *Config) (Store, error) {
	if !strings.Contains(uri, "://") {
		uri = "redis://" + uri
	}
	p := strings.Index(uri, "://")
	driver := uri[:p]
	creator, ok := engines[driver]
	if !ok {
		return nil, fmt.Errorf("invalid meta driver: %s", driver)
	}
	if conf == nil {
		conf = &Config{}
	}
	m, err := creator(driver, uri[p+3:], conf)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", redactURI(uri))
	}
	if conf.ReadOnly {
		m = &readOnly{m}
	}
	return m, nil
}

func redactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return u.Redacted()
}

type readOnly struct {
	Store
}

func (r *readOnly) EnsureIndex(ctx context.Context, coll Collection, idx Index) error {
	return nil
}

func (r *readOnly) InsertRecord(ctx context.Context, coll Collection, rec Record) error {
	return ErrReadOnly
}

func (r *readOnly) UpdateOne(ctx context.Context, coll Collection, f Filter, set Record) (bool, error) {
	return false, ErrReadOnly
}

func (r *readOnly) DeleteMany(ctx context.Context, coll Collection, f Filter) (int64, error) {
	return 0, ErrReadOnly
}

const settingCollection Collection = "setting"
const settingID = "setting"

// Init writes the volume setting. Without force an existing setting must
// match format apart from its UUID and salt, which are kept; any other
// change, the name included, is an error.
func Init(ctx context.Context, s Store, format Format, force bool) error {
	old, err := Load(ctx, s)
	if err != nil && !errors.Is(err, ErrNoRecord) {
		return err
	}
	if old != nil {
		if force {
			logger.Warnf("Existing volume will be overwritten: %+v", *old)
		} else {
			format.UUID = old.UUID
			format.EncryptSalt = old.EncryptSalt
			if format != *old {
				return fmt.Errorf("cannot update format from %+v to %+v", *old, format)
			}
			return nil
		}
		if _, err = s.DeleteMany(ctx, settingCollection, Filter{"_id": settingID}); err != nil {
			return err
		}
	}
	return s.InsertRecord(ctx, settingCollection, format.record())
}

// Load reads the volume setting written by Init.
func Load(ctx context.Context, s Store) (*Format, error) {
	r, err := s.FindOne(ctx, settingCollection, Filter{"_id": settingID})
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, errors.Wrap(err, "database is not formatted")
		}
		return nil, err
	}
	return formatFromRecord(r), nil
}
