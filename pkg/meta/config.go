// pkg/meta/config.go

package meta

import "time"

// Config for clients.
type Config struct {
	Retries      int
	ReadOnly     bool
	Prefix       string // prepended to every key the engine owns
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Format is the setting record of a volume.
type Format struct {
	Name        string
	UUID        string
	Bucket      string // collection prefix of the file bucket
	ChunkSize   int
	Checksum    string
	EncryptSalt string
}

func (f *Format) record() Record {
	r := Record{
		"_id":       settingID,
		"name":      f.Name,
		"uuid":      f.UUID,
		"bucket":    f.Bucket,
		"chunkSize": f.ChunkSize,
		"checksum":  f.Checksum,
	}
	if f.EncryptSalt != "" {
		r["encryptSalt"] = f.EncryptSalt
	}
	return r
}

func formatFromRecord(r Record) *Format {
	f := &Format{}
	f.Name, _ = r["name"].(string)
	f.UUID, _ = r["uuid"].(string)
	f.Bucket, _ = r["bucket"].(string)
	f.Checksum, _ = r["checksum"].(string)
	f.EncryptSalt, _ = r["encryptSalt"].(string)
	if n, ok := toNumber(r["chunkSize"]); ok && n.isInt {
		f.ChunkSize = int(n.i)
	}
	return f
}
