package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/semver"

	"github.com/stevegt/chatbook/client"
	"github.com/stevegt/chatbook/store/kv"
)

// SchemaVersion is the layout version written to new bolt files.  A
// file with a different major version is refused.
const SchemaVersion = "1.0.0"

// Buckets:
// - name: session, key: session id, value: json Record
// - name: meta, key: "schema", value: SchemaVersion
const (
	sessionBucket = "session"
	metaBucket    = "meta"
	schemaKey     = "schema"
)

// BoltStore keeps sessions in a bbolt file, one json record per
// session.
type BoltStore struct {
	db *kv.Db
}

var _ Store = (*BoltStore)(nil)

// OpenBolt opens or creates the bolt file at path.
func OpenBolt(path string) (bs *BoltStore, err error) {
	defer Return(&err)
	Assert(path != "", "bbolt store needs a path")
	err = os.MkdirAll(filepath.Dir(path), 0o755)
	Ck(err)
	db, err := kv.Open(path, 10*time.Second)
	Ck(err)
	bs = &BoltStore{db: db}
	err = db.Update(func(tx *kv.Tx) (err error) {
		defer Return(&err)
		_, err = tx.MakeBucket(sessionBucket)
		Ck(err)
		ver := tx.Get(metaBucket, schemaKey)
		if ver == nil {
			Debug("bbolt: new store %s, schema %s", path, SchemaVersion)
			return tx.Put(metaBucket, schemaKey, []byte(SchemaVersion))
		}
		return checkSchema(ver)
	})
	if err != nil {
		db.Close()
		bs = nil
	}
	Ck(err)
	return
}

// checkSchema refuses files written with another major version.
func checkSchema(ver []byte) (err error) {
	defer Return(&err)
	have, err := semver.Parse(ver)
	Ck(err)
	want, err := semver.Parse([]byte(SchemaVersion))
	Ck(err)
	if Spf("%s", have.Major) != Spf("%s", want.Major) {
		err = fmt.Errorf("session store schema is %s, this build reads %s", ver, SchemaVersion)
	}
	return
}

func (bs *BoltStore) Load(id string) (rec *Record, err error) {
	err = bs.db.View(func(tx *kv.Tx) error {
		rec, err = get(tx, id)
		return err
	})
	return
}

func (bs *BoltStore) Append(id string, turns ...client.ChatMsg) error {
	return bs.db.Update(func(tx *kv.Tx) error {
		t := now()
		rec, err := get(tx, id)
		if err == ErrNotFound {
			rec = &Record{ID: id, Created: t}
		} else if err != nil {
			return err
		}
		rec.Turns = append(rec.Turns, turns...)
		rec.Updated = t
		return put(tx, rec)
	})
}

func (bs *BoltStore) Clear(id string) error {
	return bs.db.Update(func(tx *kv.Tx) error {
		rec, err := get(tx, id)
		if err != nil {
			return err
		}
		rec.Turns = nil
		rec.Updated = now()
		return put(tx, rec)
	})
}

func (bs *BoltStore) Delete(id string) error {
	return bs.db.Update(func(tx *kv.Tx) error {
		return tx.Delete(sessionBucket, id)
	})
}

func (bs *BoltStore) List() (recs []*Record, err error) {
	err = bs.db.View(func(tx *kv.Tx) (err error) {
		defer Return(&err)
		ids, err := tx.List(sessionBucket)
		Ck(err)
		for _, id := range ids {
			rec, err := get(tx, id)
			Ck(err)
			recs = append(recs, rec)
		}
		return
	})
	sortRecords(recs)
	return
}

func (bs *BoltStore) Close() error {
	return bs.db.Close()
}

func get(tx *kv.Tx, id string) (rec *Record, err error) {
	buf := tx.Get(sessionBucket, id)
	if buf == nil {
		return nil, ErrNotFound
	}
	rec = &Record{}
	err = json.Unmarshal(buf, rec)
	return
}

func put(tx *kv.Tx, rec *Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Put(sessionBucket, rec.ID, buf)
}
