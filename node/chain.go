package node

import (
	"sync"

	"timecore.dev/node/consensus"
	"timecore.dev/node/node/store"
)

// ChainManager maintains the canonical blockchain: it ingests produced or
// received blocks, validates them against spec.md §4.7's ordered checks,
// retires their transactions' UTXOs to Confirmed, and resolves forks by
// cumulative VDF work.
type ChainManager struct {
	mu sync.Mutex

	db       *store.DB
	utxos    *UTXOSet
	mempool  *Mempool
	registry *MasternodeRegistry
	log      *Logger

	tipHeight uint64
	tipHash   [32]byte

	genesisHash   [32]byte
	maxReorgDepth uint64
}

// ChainConfig groups the parameters ChainManager needs beyond its
// component dependencies.
type ChainConfig struct {
	GenesisHash   [32]byte
	MaxReorgDepth uint64
}

// NewChainManager constructs a manager with no blocks loaded; callers
// should call LoadFromDisk (or InitGenesis for a brand-new store) before
// accepting blocks.
func NewChainManager(db *store.DB, utxos *UTXOSet, mempool *Mempool, registry *MasternodeRegistry, log *Logger, cfg ChainConfig) *ChainManager {
	return &ChainManager{
		db:            db,
		utxos:         utxos,
		mempool:       mempool,
		registry:      registry,
		log:           log,
		genesisHash:   cfg.GenesisHash,
		maxReorgDepth: cfg.MaxReorgDepth,
	}
}

// InitGenesis stores genesis as block 0 and sets the tip, for a brand-new
// data directory.
func (c *ChainManager) InitGenesis(genesis consensus.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := consensus.BlockHash(genesis.Header)
	if hash != c.genesisHash {
		return newNodeErr(ErrStructural, CodeBadStructure, "genesis block does not match configured genesis hash")
	}
	if err := c.db.PutBlock(0, genesis); err != nil {
		return err
	}
	if err := c.db.SaveManifest(store.Manifest{GenesisHash: hash, SchemaVersion: 2}); err != nil {
		return err
	}
	c.tipHeight = 0
	c.tipHash = hash
	return nil
}

// LoadFromDisk reconciles the stored manifest against the configured
// genesis hash (wiping and rebuilding on mismatch per spec.md §4.7),
// selectively skips any block record that fails to deserialize (spec.md
// §4.7's single-block corruption recovery), and replays stored UTXOs into
// the in-memory set.
func (c *ChainManager) LoadFromDisk() (missingHeights []uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	manifest, found, err := c.db.LoadManifest()
	if err != nil {
		return nil, err
	}
	if found && manifest.GenesisHash != c.genesisHash {
		if c.log != nil {
			c.log.Warnf("chain: on-disk genesis %x does not match configured genesis %x, wiping store", manifest.GenesisHash, c.genesisHash)
		}
		if err := c.db.WipeChainState(); err != nil {
			return nil, err
		}
		if err := c.db.SaveManifest(store.Manifest{GenesisHash: c.genesisHash, SchemaVersion: 2}); err != nil {
			return nil, err
		}
		c.tipHeight = 0
		c.tipHash = [32]byte{}
		return nil, nil
	}

	height, ok := c.db.HighestBlockHeight()
	if !ok {
		return nil, nil
	}
	var h uint64
	for h = 0; h <= height; h++ {
		block, err := c.db.GetBlock(h)
		if err == store.ErrCorrupt {
			if delErr := c.db.DeleteBlock(h); delErr != nil && c.log != nil {
				c.log.Errorf("chain: failed deleting corrupted block %d: %v", h, delErr)
			}
			missingHeights = append(missingHeights, h)
			continue
		}
		if err != nil {
			missingHeights = append(missingHeights, h)
			continue
		}
		c.tipHeight = h
		c.tipHash = consensus.BlockHash(block.Header)
	}

	c.db.IterateUTXOs(func(op consensus.OutPoint, out consensus.TxOutput, owner string) {
		c.utxos.AddUnspent(op, out, owner)
	})
	return missingHeights, nil
}

// Ingest validates and applies a block, following spec.md §4.7's ordered
// checks. expectedCoinbase is the caller's independently-derived coinbase
// output set (from the same reward computation ComposeBlock performs),
// used to check rule (4) without this package needing its own copy of the
// masternode/fee snapshot.
func (c *ChainManager) Ingest(block consensus.Block, expectedCoinbase []consensus.TxOutput, inputValues map[consensus.OutPoint]uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := consensus.ValidateBlockStructure(block); err != nil {
		return err
	}
	if err := consensus.ValidateHeightAndLinkage(block.Header, c.tipHeight, c.tipHash); err != nil {
		// Caller is responsible for invoking fork resolution on this path;
		// see ResolveFork.
		return err
	}
	if err := consensus.ValidateCoinbase(block.Transactions[0], expectedCoinbase); err != nil {
		return err
	}

	var totalFees uint64
	for _, tx := range block.Transactions[1:] {
		fee, err := consensus.ValidateValueConservation(tx, inputValues)
		if err != nil {
			return err
		}
		totalFees += fee
	}

	for _, tx := range block.Transactions[1:] {
		txid := consensus.Txid(tx)
		sigHash := consensus.SignatureHash(tx)
		for _, in := range tx.Inputs {
			// spec.md §4.7 rule 5: an input can still be Unspent here if this
			// node missed the finality round entirely (it never saw the vote
			// traffic that moved it through Locked/SpentPending). Re-validate
			// the spend's signature directly and apply it, rather than
			// routing through Finalize/Confirm, which require those
			// intermediate states and would otherwise leave the UTXO live.
			if entry, ok := c.utxos.Get(in.PreviousOutput); ok && entry.State.Status == StatusUnspent {
				if !consensus.VerifyInputSignature(in, entry.UTXO, sigHash) {
					return newNodeErr(ErrPolicyViolation, CodeBadSignature, "missed-finality input failed signature re-validation")
				}
				c.utxos.ApplyMissedFinality(in.PreviousOutput, txid, block.Header.Height)
			} else {
				if err := c.utxos.Finalize(in.PreviousOutput, txid); err != nil && c.log != nil {
					c.log.Warnf("chain: finalize during ingest for %x: %v", txid, err)
				}
				if err := c.utxos.Confirm(in.PreviousOutput, txid, block.Header.Height); err != nil && c.log != nil {
					c.log.Errorf("chain: confirm failed for %x: %v", txid, err)
				}
			}
			c.db.DeleteUTXO(in.PreviousOutput)
		}
		for i, out := range tx.Outputs {
			op := consensus.OutPoint{Txid: txid, Vout: uint32(i)}
			c.db.PutUTXO(op, out, ownerOf(out))
		}
		if c.mempool != nil {
			c.mempool.Remove(txid)
		}
	}
	for i, out := range block.Transactions[0].Outputs {
		coinbaseTxid := consensus.Txid(block.Transactions[0])
		op := consensus.OutPoint{Txid: coinbaseTxid, Vout: uint32(i)}
		c.utxos.AddUnspent(op, out, ownerOf(out))
		c.db.PutUTXO(op, out, ownerOf(out))
	}

	if err := c.db.PutBlock(block.Header.Height, block); err != nil {
		return err
	}
	c.tipHeight = block.Header.Height
	c.tipHash = consensus.BlockHash(block.Header)
	return nil
}

// Tip returns the current chain tip.
func (c *ChainManager) Tip() (height uint64, hash [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tipHeight, c.tipHash
}

// ChainCandidate is a competing chain tip observed from a peer, used for
// fork resolution.
type ChainCandidate struct {
	TipHeight        uint64
	TipHash          [32]byte
	CumulativeVDFWork uint64
}

// ResolveFork implements spec.md §4.7's reorg rule: the chain with greater
// cumulative VDF work from the common ancestor wins; ties break toward the
// lowest tip hash. depth is how far back the common ancestor sits; beyond
// maxReorgDepth the reorg is refused and requires operator intervention.
func (c *ChainManager) ResolveFork(local, remote ChainCandidate, depth uint64) (adoptRemote bool, err error) {
	if depth > c.maxReorgDepth {
		return false, newNodeErr(ErrPolicyViolation, CodeConflict, "reorg depth exceeds policy maximum")
	}
	if remote.CumulativeVDFWork > local.CumulativeVDFWork {
		return true, nil
	}
	if remote.CumulativeVDFWork < local.CumulativeVDFWork {
		return false, nil
	}
	return lessBytes(remote.TipHash[:], local.TipHash[:]), nil
}
