package state

import (
	"net"
	"time"
)

// Standard bucket names
const (
	BucketSessions = "sessions"
	BucketRemote   = "remote" // control-plane token and last status
)

// SessionRecord is the persisted form of a client session.
type SessionRecord struct {
	MAC           string    `json:"mac"`
	IP            string    `json:"ip"`
	Token         string    `json:"token"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	AuthedAt      time.Time `json:"authed_at,omitempty"`
	LastActivity  time.Time `json:"last_activity"`
	DeauthedAt    time.Time `json:"deauthed_at,omitempty"`
	QuotaSeconds  int64     `json:"quota_seconds,omitempty"`
	BandwidthKbps uint64    `json:"bandwidth_kbps,omitempty"`
}

// SessionBucket provides typed access to persisted sessions, keyed by MAC.
type SessionBucket struct {
	store  Store
	bucket string
}

// NewSessionBucket creates a new session bucket accessor.
func NewSessionBucket(store Store) (*SessionBucket, error) {
	if err := ensureBucket(store, BucketSessions); err != nil {
		return nil, err
	}
	return &SessionBucket{store: store, bucket: BucketSessions}, nil
}

// Get retrieves a session by MAC address.
func (b *SessionBucket) Get(mac string) (*SessionRecord, error) {
	var rec SessionRecord
	if err := GetJSON(b.store, b.bucket, normalizeMAC(mac), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put stores a session.
func (b *SessionBucket) Put(rec *SessionRecord) error {
	return SetJSON(b.store, b.bucket, normalizeMAC(rec.MAC), rec)
}

// Delete removes a session. Deleting a missing session is not an error.
func (b *SessionBucket) Delete(mac string) error {
	if err := b.store.Delete(b.bucket, normalizeMAC(mac)); err != nil && err != ErrNotFound {
		return err
	}
	return nil
}

// List returns all persisted sessions, skipping undecodable entries.
func (b *SessionBucket) List() ([]*SessionRecord, error) {
	data, err := b.store.List(b.bucket)
	if err != nil {
		return nil, err
	}
	records := make([]*SessionRecord, 0, len(data))
	for _, v := range data {
		var rec SessionRecord
		if err := unmarshalJSON(v, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// RemoteRecord persists the control-plane registration across restarts.
type RemoteRecord struct {
	Token      string    `json:"token"`
	LastStatus int       `json:"last_status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const remoteKey = "registration"

// RemoteBucket provides typed access to the control-plane registration.
type RemoteBucket struct {
	store Store
}

// NewRemoteBucket creates a new remote bucket accessor.
func NewRemoteBucket(store Store) (*RemoteBucket, error) {
	if err := ensureBucket(store, BucketRemote); err != nil {
		return nil, err
	}
	return &RemoteBucket{store: store}, nil
}

// Load returns the saved registration, or ErrNotFound.
func (b *RemoteBucket) Load() (*RemoteRecord, error) {
	var rec RemoteRecord
	if err := GetJSON(b.store, BucketRemote, remoteKey, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save stores the registration.
func (b *RemoteBucket) Save(rec *RemoteRecord) error {
	return SetJSON(b.store, BucketRemote, remoteKey, rec)
}

// normalizeMAC normalizes a MAC address to lowercase with colons.
func normalizeMAC(mac string) string {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return mac
	}
	return hw.String()
}
