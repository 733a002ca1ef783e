package database

import (
	"bytes"
	"sort"
	"time"

	"github.com/otxnet/otxd/database/lmdb"
	"github.com/otxnet/otxd/wire"
	"github.com/pkg/errors"
)

// connectedBucket buckets a last-connected timestamp into the integer key
// space of the connected index: days since the unix epoch.
func connectedBucket(when time.Time) uint32 {
	unix := when.Unix()
	if unix < 0 {
		return 0
	}
	return uint32(unix / 86400)
}

// Peers stores peer address records with secondary indexes on chain,
// protocol, service, transport and last-connected bucket.
type Peers struct {
	db *lmdb.DB
}

func newPeers(db *lmdb.DB) *Peers {
	return &Peers{db: db}
}

// Insert upserts a peer by id, refreshing every secondary index in the
// same transaction. A zero last-connected timestamp is set to the current
// time.
func (p *Peers) Insert(peer *wire.PeerRecord) error {
	if peer == nil || peer.ID == "" {
		return errors.Wrap(ErrInvalidInput, "empty peer id")
	}
	if peer.LastConnected.IsZero() {
		peer.LastConnected = time.Now()
	}

	txn, err := p.db.BeginRW()
	if err != nil {
		return err
	}

	if err := p.insert(peer, txn); err != nil {
		_ = txn.Finalize(false)
		return err
	}

	return txn.Finalize(true)
}

// Import bulk-inserts peers, skipping any whose id is already known.
func (p *Peers) Import(peers []*wire.PeerRecord) error {
	txn, err := p.db.BeginRW()
	if err != nil {
		return err
	}

	imported := 0
	for _, peer := range peers {
		if peer == nil || peer.ID == "" {
			continue
		}
		if p.db.Exists(tablePeerDetails, []byte(peer.ID)) {
			log.Tracef("Skipping import of known peer %s", peer.ID)
			continue
		}
		if err := p.insert(peer, txn); err != nil {
			_ = txn.Finalize(false)
			return err
		}
		imported++
	}

	log.Debugf("Imported %d %s", imported,
		pickNoun(imported, "peer", "peers"))

	return txn.Finalize(true)
}

// Get returns the stored record for the given peer id, or ErrNotFound.
func (p *Peers) Get(id string) (*wire.PeerRecord, error) {
	record := &wire.PeerRecord{}
	err := p.db.Load(tablePeerDetails, []byte(id), func(value []byte) error {
		if err := record.Deserialize(bytes.NewReader(value)); err != nil {
			return errors.Wrap(ErrCorruptStore, err.Error())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// Find returns the best candidate peer matching every filter: the least
// recently connected peer on the requested chain speaking the requested
// protocol, reachable over at least one of the requested transports and
// advertising every requested service. Ties are broken by lexical order
// of peer id so repeated queries are deterministic. Returns ErrNotFound
// when no peer qualifies.
func (p *Peers) Find(chain uint32, protocol wire.PeerProtocol, transports map[wire.PeerTransport]struct{}, services map[wire.PeerService]struct{}) (*wire.PeerRecord, error) {
	candidates := make(map[string]struct{})
	err := p.db.ReadDup(tablePeerChainIndex, lmdb.IntegerKey(chain), func(value []byte) bool {
		candidates[string(value)] = struct{}{}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.WithStack(ErrNotFound)
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var best *wire.PeerRecord
	for _, id := range ids {
		record, err := p.Get(id)
		if err != nil {
			log.Errorf("Indexed peer %s has no record: %s", id, err)
			continue
		}
		if !peerMatches(record, chain, protocol, transports, services) {
			continue
		}
		if best == nil || record.LastConnected.Before(best.LastConnected) {
			best = record
		}
	}
	if best == nil {
		return nil, errors.WithStack(ErrNotFound)
	}

	return best, nil
}

// peerMatches verifies a loaded record against the query filters. The
// secondary indexes only narrow the candidate set; stale index rows from
// earlier versions of a record are filtered out here.
func peerMatches(record *wire.PeerRecord, chain uint32, protocol wire.PeerProtocol, transports map[wire.PeerTransport]struct{}, services map[wire.PeerService]struct{}) bool {
	if record.Chain != chain || record.Protocol != protocol {
		return false
	}

	if len(transports) > 0 {
		reachable := false
		for transport := range transports {
			if _, ok := record.Transports[transport]; ok {
				reachable = true
				break
			}
		}
		if !reachable {
			return false
		}
	}

	for service := range services {
		if _, ok := record.Services[service]; !ok {
			return false
		}
	}

	return true
}

func (p *Peers) insert(peer *wire.PeerRecord, txn *lmdb.Txn) error {
	id := []byte(peer.ID)

	// Remove the stale connected-index row when the peer was already
	// known; the other indexes are dup-sort sets and deduplicate
	// naturally.
	previous := &wire.PeerRecord{}
	err := p.db.LoadTxn(tablePeerDetails, id, func(value []byte) error {
		return previous.Deserialize(bytes.NewReader(value))
	}, txn)
	switch {
	case err == nil:
		oldBucket := connectedBucket(previous.LastConnected)
		if oldBucket != connectedBucket(peer.LastConnected) {
			if err := p.db.DeleteValue(tablePeerConnectedIndex,
				lmdb.IntegerKey(oldBucket), id, txn); err != nil {
				return err
			}
		}
	case IsNotFoundError(err):
	default:
		return err
	}

	var buf bytes.Buffer
	if err := peer.Serialize(&buf); err != nil {
		return err
	}
	if err := p.db.StoreTxn(tablePeerDetails, id, buf.Bytes(), txn); err != nil {
		return err
	}

	if err := p.db.StoreTxn(tablePeerChainIndex,
		lmdb.IntegerKey(peer.Chain), id, txn); err != nil {
		return err
	}
	if err := p.db.StoreTxn(tablePeerProtocolIndex,
		lmdb.IntegerKey(uint32(peer.Protocol)), id, txn); err != nil {
		return err
	}
	for service := range peer.Services {
		if err := p.db.StoreTxn(tablePeerServiceIndex,
			lmdb.IntegerKey(uint32(service)), id, txn); err != nil {
			return err
		}
	}
	for transport := range peer.Transports {
		if err := p.db.StoreTxn(tablePeerNetworkIndex,
			lmdb.IntegerKey(uint32(transport)), id, txn); err != nil {
			return err
		}
	}

	return p.db.StoreTxn(tablePeerConnectedIndex,
		lmdb.IntegerKey(connectedBucket(peer.LastConnected)), id, txn)
}

func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
