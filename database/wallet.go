package database

import (
	"bytes"
	"io"
	"sort"
	"sync"

	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/database/bulk"
	"github.com/otxnet/otxd/database/lmdb"
	"github.com/otxnet/otxd/wire"
	"github.com/pkg/errors"
)

// PatternID is the 8 byte fingerprint of a script element, computed with
// SipHash24 under the database's pattern key.
type PatternID uint64

// ContactID identifies a contact in the wallet's contact index.
type ContactID string

// Contact is the wallet-facing view of a contact: its id and the script
// elements currently known to belong to it.
type Contact struct {
	ID       ContactID
	Elements [][]byte
}

// Wallet maintains the transaction store and the pattern and contact
// indexes used for rescans. Transactions are durable on every store; the
// indexes live in memory and are snapshotted to the bulk store by Flush
// and on Close, then reloaded on the next open.
type Wallet struct {
	db        *lmdb.DB
	bulk      *bulk.Store
	table     lmdb.Table
	indexItem func([]byte) PatternID

	mtx                   sync.Mutex
	contactToElement      map[ContactID]map[string]struct{}
	elementToContact      map[string]map[ContactID]struct{}
	transactionToPatterns map[chainhash.Hash]map[PatternID]struct{}
	patternToTransactions map[PatternID]map[chainhash.Hash]struct{}
}

func newWallet(db *lmdb.DB, bulkStore *bulk.Store, indexItem func([]byte) PatternID) *Wallet {
	w := &Wallet{
		db:                    db,
		bulk:                  bulkStore,
		table:                 tableTransactionIndex,
		indexItem:             indexItem,
		contactToElement:      make(map[ContactID]map[string]struct{}),
		elementToContact:      make(map[string]map[ContactID]struct{}),
		transactionToPatterns: make(map[chainhash.Hash]map[PatternID]struct{}),
		patternToTransactions: make(map[PatternID]map[chainhash.Hash]struct{}),
	}

	if err := w.loadSnapshot(); err != nil {
		log.Errorf("Discarding unreadable wallet index snapshot: %s", err)
		w.contactToElement = make(map[ContactID]map[string]struct{})
		w.elementToContact = make(map[string]map[ContactID]struct{})
		w.transactionToPatterns = make(map[chainhash.Hash]map[PatternID]struct{})
		w.patternToTransactions = make(map[PatternID]map[chainhash.Hash]struct{})
	}

	return w
}

// AssociateTransaction replaces the set of patterns associated with txid
// by the incoming set, updating the reverse index to match. The operation
// is idempotent.
func (w *Wallet) AssociateTransaction(txid chainhash.Hash, patterns []PatternID) error {
	if txid.IsZero() {
		return errors.Wrap(ErrInvalidInput, "empty txid")
	}

	incoming := make(map[PatternID]struct{}, len(patterns))
	for _, pattern := range patterns {
		incoming[pattern] = struct{}{}
	}
	log.Tracef("Transaction %s is associated with %d patterns", txid,
		len(incoming))

	w.mtx.Lock()
	defer w.mtx.Unlock()

	existing := w.transactionToPatterns[txid]

	for pattern := range incoming {
		if _, ok := existing[pattern]; ok {
			continue
		}
		transactions, ok := w.patternToTransactions[pattern]
		if !ok {
			transactions = make(map[chainhash.Hash]struct{})
			w.patternToTransactions[pattern] = transactions
		}
		transactions[txid] = struct{}{}
	}

	for pattern := range existing {
		if _, ok := incoming[pattern]; ok {
			continue
		}
		if transactions, ok := w.patternToTransactions[pattern]; ok {
			delete(transactions, txid)
			if len(transactions) == 0 {
				delete(w.patternToTransactions, pattern)
			}
		}
	}

	w.transactionToPatterns[txid] = incoming

	return nil
}

// LookupTransactions returns every txid associated with the given
// pattern, in deterministic order.
func (w *Wallet) LookupTransactions(pattern PatternID) []chainhash.Hash {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return sortedTxids(w.patternToTransactions[pattern])
}

// LookupContact returns the set of contacts the given script element
// belongs to.
func (w *Wallet) LookupContact(element []byte) []ContactID {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	contacts := w.elementToContact[string(element)]
	out := make([]ContactID, 0, len(contacts))
	for contact := range contacts {
		out = append(out, contact)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// StoreTransaction persists a transaction keyed by its txid.
func (w *Wallet) StoreTransaction(tx *wire.MsgTx) error {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return err
	}
	payload := buf.Bytes()
	txid := tx.TxHash()

	var entry bulk.IndexEntry
	err := w.db.Load(w.table, txid[:], func(value []byte) error {
		return entry.Decode(value)
	})
	if err != nil && !IsNotFoundError(err) {
		return err
	}

	txn, err := w.db.BeginRW()
	if err != nil {
		return err
	}

	w.bulk.Mutex().Lock()
	view, err := w.bulk.WriteView(txn, &entry, func(txn *lmdb.Txn) error {
		return w.db.StoreTxn(w.table, txid[:], entry.Encode(), txn)
	}, uint64(len(payload)))
	w.bulk.Mutex().Unlock()

	if err != nil {
		log.Errorf("Failed to get write position for transaction %s: %s",
			txid, err)
		_ = txn.Finalize(false)
		return err
	}
	copy(view, payload)

	return txn.Finalize(true)
}

// LoadTransaction returns the stored transaction for the given txid, or
// ErrNotFound.
func (w *Wallet) LoadTransaction(txid chainhash.Hash) (*wire.MsgTx, error) {
	var entry bulk.IndexEntry
	err := w.db.Load(w.table, txid[:], func(value []byte) error {
		if err := entry.Decode(value); err != nil {
			return errors.Wrap(ErrCorruptStore, err.Error())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	view, err := w.bulk.ReadView(entry)
	if err != nil {
		return nil, err
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(view)); err != nil {
		return nil, errors.Wrap(ErrCorruptStore, err.Error())
	}

	return tx, nil
}

// UpdateContact replaces the set of script elements known for the contact
// and returns every transaction that touches an element which was added
// or removed, for reindexing.
func (w *Wallet) UpdateContact(contact Contact) []chainhash.Hash {
	incoming := elementSet(contact.Elements)

	w.mtx.Lock()
	defer w.mtx.Unlock()

	existing := w.contactToElement[contact.ID]
	affected := w.updateContact(existing, incoming, contact.ID)
	w.contactToElement[contact.ID] = incoming

	return affected
}

// UpdateMergedContact unions the child contact's elements into the
// parent, drops the child, and returns every transaction touching any
// element affected by the merge.
func (w *Wallet) UpdateMergedContact(parent, child Contact) []chainhash.Hash {
	deleted := elementSet(child.Elements)
	incoming := elementSet(parent.Elements)
	for element := range deleted {
		incoming[element] = struct{}{}
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	existing := w.contactToElement[parent.ID]
	delete(w.contactToElement, child.ID)

	affectedSet := make(map[chainhash.Hash]struct{})
	collect := func(txids []chainhash.Hash) {
		for _, txid := range txids {
			affectedSet[txid] = struct{}{}
		}
	}

	collect(w.updateContact(existing, incoming, parent.ID))

	for element := range deleted {
		if contacts, ok := w.elementToContact[element]; ok {
			delete(contacts, child.ID)
			if len(contacts) == 0 {
				delete(w.elementToContact, element)
			}
		}
		collect(w.transactionsForElement(element))
	}

	w.contactToElement[parent.ID] = incoming

	return sortedTxids(affectedSet)
}

// updateContact applies an element set difference for one contact. The
// caller holds the wallet mutex.
func (w *Wallet) updateContact(existing, incoming map[string]struct{}, contact ContactID) []chainhash.Hash {
	affected := make(map[chainhash.Hash]struct{})
	collect := func(element string) {
		for _, txid := range w.transactionsForElement(element) {
			affected[txid] = struct{}{}
		}
	}

	for element := range existing {
		if _, ok := incoming[element]; ok {
			continue
		}
		if contacts, ok := w.elementToContact[element]; ok {
			delete(contacts, contact)
			if len(contacts) == 0 {
				delete(w.elementToContact, element)
			}
		}
		collect(element)
	}

	for element := range incoming {
		if _, ok := existing[element]; ok {
			continue
		}
		contacts, ok := w.elementToContact[element]
		if !ok {
			contacts = make(map[ContactID]struct{})
			w.elementToContact[element] = contacts
		}
		contacts[contact] = struct{}{}
		collect(element)
	}

	return sortedTxids(affected)
}

func (w *Wallet) transactionsForElement(element string) []chainhash.Hash {
	pattern := w.indexItem([]byte(element))
	return sortedTxids(w.patternToTransactions[pattern])
}

// walletSnapshotVersion is the current serialization version of the
// wallet index snapshot.
const walletSnapshotVersion = 1

// maxWalletSetEntries bounds the decoded size of any one set in the
// snapshot.
const maxWalletSetEntries = 1 << 24

// maxWalletElement bounds the decoded size of a contact id or script
// element.
const maxWalletElement = 1 << 16

// Flush snapshots the pattern and contact indexes into the bulk store so
// they survive a restart. The contact-to-element and pattern-to-
// transaction maps are authoritative; their inverses are rebuilt on
// load.
func (w *Wallet) Flush() error {
	w.mtx.Lock()
	payload, err := w.serializeSnapshot()
	w.mtx.Unlock()
	if err != nil {
		return err
	}

	key := lmdb.IntegerKey(KeyWalletIndex)
	var entry bulk.IndexEntry
	err = w.db.Load(tableConfig, key, func(value []byte) error {
		return entry.Decode(value)
	})
	if err != nil && !IsNotFoundError(err) {
		return err
	}

	txn, err := w.db.BeginRW()
	if err != nil {
		return err
	}

	w.bulk.Mutex().Lock()
	view, err := w.bulk.WriteView(txn, &entry, func(txn *lmdb.Txn) error {
		return w.db.StoreTxn(tableConfig, key, entry.Encode(), txn)
	}, uint64(len(payload)))
	w.bulk.Mutex().Unlock()

	if err != nil {
		log.Errorf("Failed to get write position for wallet index: %s", err)
		_ = txn.Finalize(false)
		return err
	}
	copy(view, payload)

	return txn.Finalize(true)
}

// Close flushes the indexes. The wallet remains usable afterwards; Close
// exists so the database can persist wallet state during teardown.
func (w *Wallet) Close() error {
	return w.Flush()
}

// serializeSnapshot encodes the indexes. The caller holds the wallet
// mutex.
func (w *Wallet) serializeSnapshot() ([]byte, error) {
	var buf bytes.Buffer

	var scratch [8]byte
	writeUint64 := func(value uint64) error {
		for i := uint(0); i < 8; i++ {
			scratch[i] = byte(value >> (8 * i))
		}
		_, err := buf.Write(scratch[:])
		return errors.WithStack(err)
	}

	if err := wire.WriteVarInt(&buf, walletSnapshotVersion); err != nil {
		return nil, err
	}

	patterns := make([]PatternID, 0, len(w.patternToTransactions))
	for pattern := range w.patternToTransactions {
		patterns = append(patterns, pattern)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i] < patterns[j] })

	if err := wire.WriteVarInt(&buf, uint64(len(patterns))); err != nil {
		return nil, err
	}
	for _, pattern := range patterns {
		if err := writeUint64(uint64(pattern)); err != nil {
			return nil, err
		}
		txids := sortedTxids(w.patternToTransactions[pattern])
		if err := wire.WriteVarInt(&buf, uint64(len(txids))); err != nil {
			return nil, err
		}
		for _, txid := range txids {
			if _, err := buf.Write(txid[:]); err != nil {
				return nil, errors.WithStack(err)
			}
		}
	}

	contacts := make([]ContactID, 0, len(w.contactToElement))
	for contact := range w.contactToElement {
		contacts = append(contacts, contact)
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i] < contacts[j] })

	if err := wire.WriteVarInt(&buf, uint64(len(contacts))); err != nil {
		return nil, err
	}
	for _, contact := range contacts {
		if err := wire.WriteVarBytes(&buf, []byte(contact)); err != nil {
			return nil, err
		}

		elements := make([]string, 0, len(w.contactToElement[contact]))
		for element := range w.contactToElement[contact] {
			elements = append(elements, element)
		}
		sort.Strings(elements)

		if err := wire.WriteVarInt(&buf, uint64(len(elements))); err != nil {
			return nil, err
		}
		for _, element := range elements {
			if err := wire.WriteVarBytes(&buf, []byte(element)); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

// loadSnapshot restores the indexes written by the last Flush, rebuilding
// the inverse maps. A missing snapshot is not an error; a corrupt one is
// reported and the wallet starts empty.
func (w *Wallet) loadSnapshot() error {
	var entry bulk.IndexEntry
	err := w.db.Load(tableConfig, lmdb.IntegerKey(KeyWalletIndex),
		func(value []byte) error {
			return entry.Decode(value)
		})
	if IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return err
	}

	view, err := w.bulk.ReadView(entry)
	if err != nil {
		return err
	}
	r := bytes.NewReader(view)

	version, err := wire.ReadVarInt(r)
	if err != nil {
		return err
	}
	if version != walletSnapshotVersion {
		return errors.Wrapf(ErrCorruptStore,
			"unknown wallet snapshot version %d", version)
	}

	patternCount, err := wire.ReadVarInt(r)
	if err != nil {
		return err
	}
	if patternCount > maxWalletSetEntries {
		return errors.Wrapf(ErrCorruptStore, "snapshot declares %d patterns",
			patternCount)
	}
	var scratch [8]byte
	for i := uint64(0); i < patternCount; i++ {
		if _, err := io.ReadFull(r, scratch[:]); err != nil {
			return errors.WithStack(err)
		}
		var pattern PatternID
		for b := uint(0); b < 8; b++ {
			pattern |= PatternID(scratch[b]) << (8 * b)
		}

		txidCount, err := wire.ReadVarInt(r)
		if err != nil {
			return err
		}
		if txidCount > maxWalletSetEntries {
			return errors.Wrapf(ErrCorruptStore,
				"pattern %d declares %d transactions", pattern, txidCount)
		}

		transactions := make(map[chainhash.Hash]struct{}, txidCount)
		for j := uint64(0); j < txidCount; j++ {
			var txid chainhash.Hash
			if _, err := io.ReadFull(r, txid[:]); err != nil {
				return errors.WithStack(err)
			}
			transactions[txid] = struct{}{}

			forward, ok := w.transactionToPatterns[txid]
			if !ok {
				forward = make(map[PatternID]struct{})
				w.transactionToPatterns[txid] = forward
			}
			forward[pattern] = struct{}{}
		}
		w.patternToTransactions[pattern] = transactions
	}

	contactCount, err := wire.ReadVarInt(r)
	if err != nil {
		return err
	}
	if contactCount > maxWalletSetEntries {
		return errors.Wrapf(ErrCorruptStore, "snapshot declares %d contacts",
			contactCount)
	}
	for i := uint64(0); i < contactCount; i++ {
		id, err := wire.ReadVarBytes(r, maxWalletElement, "contact id")
		if err != nil {
			return err
		}
		contact := ContactID(id)

		elementCount, err := wire.ReadVarInt(r)
		if err != nil {
			return err
		}
		if elementCount > maxWalletSetEntries {
			return errors.Wrapf(ErrCorruptStore,
				"contact %s declares %d elements", contact, elementCount)
		}

		elements := make(map[string]struct{}, elementCount)
		for j := uint64(0); j < elementCount; j++ {
			raw, err := wire.ReadVarBytes(r, maxWalletElement,
				"contact element")
			if err != nil {
				return err
			}
			element := string(raw)
			elements[element] = struct{}{}

			reverse, ok := w.elementToContact[element]
			if !ok {
				reverse = make(map[ContactID]struct{})
				w.elementToContact[element] = reverse
			}
			reverse[contact] = struct{}{}
		}
		w.contactToElement[contact] = elements
	}

	log.Debugf("Restored wallet index snapshot: %d patterns, %d contacts",
		patternCount, contactCount)

	return nil
}

func elementSet(elements [][]byte) map[string]struct{} {
	out := make(map[string]struct{}, len(elements))
	for _, element := range elements {
		out[string(element)] = struct{}{}
	}
	return out
}

func sortedTxids(set map[chainhash.Hash]struct{}) []chainhash.Hash {
	out := make([]chainhash.Hash, 0, len(set))
	for txid := range set {
		out = append(out, txid)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		return a.Less(&b)
	})
	return out
}
