package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sandchest/control/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSandboxes     = []byte("sandboxes")
	bucketOrgs          = []byte("orgs")
	bucketOrgQuotas     = []byte("org_quotas")
	bucketNodes         = []byte("nodes")
	bucketArtifacts     = []byte("artifacts")
	bucketMetricSamples = []byte("metric_samples")
	bucketUsageRecords  = []byte("usage_records")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "sandchest.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSandboxes,
			bucketOrgs,
			bucketOrgQuotas,
			bucketNodes,
			bucketArtifacts,
			bucketMetricSamples,
			bucketUsageRecords,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Sandbox operations

func (s *BoltStore) CreateSandbox(sandbox *types.Sandbox) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		data, err := json.Marshal(sandbox)
		if err != nil {
			return err
		}
		return b.Put([]byte(sandbox.ID), data)
	})
}

func (s *BoltStore) GetSandbox(id string) (*types.Sandbox, error) {
	var sandbox types.Sandbox
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &sandbox)
	})
	if err != nil {
		return nil, err
	}
	return &sandbox, nil
}

func (s *BoltStore) ListSandboxes() ([]*types.Sandbox, error) {
	var sandboxes []*types.Sandbox
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		return b.ForEach(func(k, v []byte) error {
			var sandbox types.Sandbox
			if err := json.Unmarshal(v, &sandbox); err != nil {
				return err
			}
			sandboxes = append(sandboxes, &sandbox)
			return nil
		})
	})
	return sandboxes, err
}

func (s *BoltStore) UpdateSandbox(sandbox *types.Sandbox) error {
	sandbox.UpdatedAt = time.Now()
	return s.CreateSandbox(sandbox) // upsert
}

func (s *BoltStore) DeleteSandbox(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		return b.Delete([]byte(id))
	})
}

// findSandboxes scans the sandbox bucket collecting rows matching the
// predicate, up to limit. Candidate sets are snapshotted within one
// View transaction, so a tick sees a consistent view.
func (s *BoltStore) findSandboxes(limit int, match func(*types.Sandbox) bool) ([]*types.Sandbox, error) {
	var found []*types.Sandbox
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandboxes).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(found) >= limit {
				return nil
			}
			var sandbox types.Sandbox
			if err := json.Unmarshal(v, &sandbox); err != nil {
				continue
			}
			if match(&sandbox) {
				found = append(found, &sandbox)
			}
		}
		return nil
	})
	return found, err
}

func (s *BoltStore) FindExpiredTTL(now time.Time, limit int) ([]*types.Sandbox, error) {
	return s.findSandboxes(limit, func(sb *types.Sandbox) bool {
		return sb.Status == types.SandboxRunning &&
			sb.StartedAt != nil &&
			sb.TTLDeadline().Before(now)
	})
}

func (s *BoltStore) FindIdleSince(cutoff time.Time, limit int) ([]*types.Sandbox, error) {
	return s.findSandboxes(limit, func(sb *types.Sandbox) bool {
		return sb.Status == types.SandboxRunning &&
			sb.LastActivityAt != nil &&
			sb.LastActivityAt.Before(cutoff)
	})
}

func (s *BoltStore) FindQueuedBefore(cutoff time.Time, limit int) ([]*types.Sandbox, error) {
	return s.findSandboxes(limit, func(sb *types.Sandbox) bool {
		return sb.Status == types.SandboxQueued && sb.CreatedAt.Before(cutoff)
	})
}

func (s *BoltStore) FindStoppingBefore(cutoff time.Time, limit int) ([]*types.Sandbox, error) {
	return s.findSandboxes(limit, func(sb *types.Sandbox) bool {
		return sb.Status == types.SandboxStopping && sb.UpdatedAt.Before(cutoff)
	})
}

func (s *BoltStore) FindNearTTLExpiry(now time.Time, threshold time.Duration, limit int) ([]*types.Sandbox, error) {
	return s.findSandboxes(limit, func(sb *types.Sandbox) bool {
		if sb.Status != types.SandboxRunning || sb.StartedAt == nil {
			return false
		}
		deadline := sb.TTLDeadline()
		return deadline.After(now) && deadline.Sub(now) <= threshold
	})
}

func (s *BoltStore) FindActive(limit int) ([]*types.Sandbox, error) {
	return s.findSandboxes(limit, func(sb *types.Sandbox) bool {
		return sb.Status == types.SandboxRunning || sb.Status == types.SandboxProvisioning
	})
}

func (s *BoltStore) FindMissingReplayExpiry(limit int) ([]*types.Sandbox, error) {
	return s.findSandboxes(limit, func(sb *types.Sandbox) bool {
		return sb.Status.Terminal() &&
			sb.EndedAt != nil &&
			sb.ReplayExpiresAt == nil
	})
}

func (s *BoltStore) FindPurgableReplays(now time.Time, limit int) ([]*types.Sandbox, error) {
	return s.findSandboxes(limit, func(sb *types.Sandbox) bool {
		return sb.ReplayExpiresAt != nil &&
			!sb.ReplayExpiresAt.Equal(types.ReplayPurgedSentinel) &&
			sb.ReplayExpiresAt.Before(now)
	})
}

func (s *BoltStore) CountActiveByOrg(orgID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSandboxes).ForEach(func(k, v []byte) error {
			var sandbox types.Sandbox
			if err := json.Unmarshal(v, &sandbox); err != nil {
				return nil
			}
			if sandbox.OrgID == orgID && !sandbox.Status.Terminal() {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (s *BoltStore) UpdateStatus(id, orgID string, to types.SandboxStatus, extra StatusExtra) (bool, error) {
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		var sandbox types.Sandbox
		if err := json.Unmarshal(data, &sandbox); err != nil {
			return err
		}
		if sandbox.OrgID != orgID {
			return fmt.Errorf("sandbox %s does not belong to org %s", id, orgID)
		}
		if !types.CanTransition(sandbox.Status, to) {
			// Row already left the source state; no-op for the caller.
			return nil
		}

		sandbox.Status = to
		sandbox.UpdatedAt = time.Now()
		if extra.Reason != types.ReasonNone {
			sandbox.FailureReason = extra.Reason
		}
		if extra.StartedAt != nil {
			sandbox.StartedAt = extra.StartedAt
		}
		if extra.EndedAt != nil {
			sandbox.EndedAt = extra.EndedAt
		}
		if extra.NodeID != "" {
			sandbox.NodeID = extra.NodeID
		}
		if extra.ClearNode {
			sandbox.NodeID = ""
		}

		updated, err := json.Marshal(&sandbox)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), updated); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (s *BoltStore) SetReplayExpiresAt(id string, expiry time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		var sandbox types.Sandbox
		if err := json.Unmarshal(data, &sandbox); err != nil {
			return err
		}
		sandbox.ReplayExpiresAt = &expiry
		sandbox.UpdatedAt = time.Now()

		updated, err := json.Marshal(&sandbox)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

// Org operations

func (s *BoltStore) CreateOrg(org *types.Org) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOrgs)
		data, err := json.Marshal(org)
		if err != nil {
			return err
		}
		return b.Put([]byte(org.ID), data)
	})
}

func (s *BoltStore) GetOrg(id string) (*types.Org, error) {
	var org types.Org
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOrgs)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &org)
	})
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *BoltStore) ListOrgsDeletedBefore(cutoff time.Time) ([]*types.Org, error) {
	var orgs []*types.Org
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOrgs).ForEach(func(k, v []byte) error {
			var org types.Org
			if err := json.Unmarshal(v, &org); err != nil {
				return nil
			}
			if org.DeletedAt != nil && org.DeletedAt.Before(cutoff) {
				orgs = append(orgs, &org)
			}
			return nil
		})
	})
	return orgs, err
}

// DeleteOrgCascade removes the org row together with its quota and
// usage records in one transaction.
func (s *BoltStore) DeleteOrgCascade(orgID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketOrgQuotas).Delete([]byte(orgID)); err != nil {
			return err
		}

		usage := tx.Bucket(bucketUsageRecords)
		c := usage.Cursor()
		prefix := []byte(orgID + "/")
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			if err := usage.Delete(k); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketOrgs).Delete([]byte(orgID))
	})
}

// Org quota operations

func (s *BoltStore) PutOrgQuota(q *types.OrgQuota) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOrgQuotas)
		data, err := json.Marshal(q)
		if err != nil {
			return err
		}
		return b.Put([]byte(q.OrgID), data)
	})
}

func (s *BoltStore) GetOrgQuota(orgID string) (*types.OrgQuota, error) {
	var q types.OrgQuota
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOrgQuotas)
		data := b.Get([]byte(orgID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &q)
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Node operations

func (s *BoltStore) PutNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

// Artifact operations

func (s *BoltStore) CreateArtifact(a *types.Artifact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put([]byte(a.ID), data)
	})
}

func (s *BoltStore) ListExpiredArtifacts(now time.Time, limit int) ([]*types.Artifact, error) {
	var artifacts []*types.Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketArtifacts).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(artifacts) >= limit {
				return nil
			}
			var a types.Artifact
			if err := json.Unmarshal(v, &a); err != nil {
				continue
			}
			if a.ExpiresAt.Before(now) {
				artifacts = append(artifacts, &a)
			}
		}
		return nil
	})
	return artifacts, err
}

func (s *BoltStore) DeleteArtifact(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArtifacts).Delete([]byte(id))
	})
}

// Metric sample operations. Samples are keyed by recording time so the
// retention sweep can range-delete without scanning the whole bucket.
// The layout is fixed-width (RFC3339Nano trims trailing zeros, which
// would break the lexicographic ordering the cursor relies on).

const metricKeyLayout = "2006-01-02T15:04:05.000000000Z07:00"

func metricKey(s *types.MetricSample) []byte {
	return []byte(s.RecordedAt.UTC().Format(metricKeyLayout) + "/" + s.ID)
}

func (s *BoltStore) AddMetricSample(sample *types.MetricSample) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetricSamples)
		data, err := json.Marshal(sample)
		if err != nil {
			return err
		}
		return b.Put(metricKey(sample), data)
	})
}

func (s *BoltStore) DeleteMetricsBefore(cutoff time.Time) (int, error) {
	deleted := 0
	max := []byte(cutoff.UTC().Format(metricKeyLayout))
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetricSamples)
		c := b.Cursor()
		for k, _ := c.First(); k != nil && string(k) < string(max); k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// Usage operations

func (s *BoltStore) AddUsage(u *types.UsageRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsageRecords)
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return b.Put([]byte(u.OrgID+"/"+u.ID), data)
	})
}

func (s *BoltStore) ListUsageByOrg(orgID string) ([]*types.UsageRecord, error) {
	var records []*types.UsageRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketUsageRecords).Cursor()
		prefix := []byte(orgID + "/")
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var u types.UsageRecord
			if err := json.Unmarshal(v, &u); err != nil {
				continue
			}
			records = append(records, &u)
		}
		return nil
	})
	return records, err
}
