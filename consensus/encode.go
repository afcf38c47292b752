package consensus

import (
	"bytes"
	"encoding/binary"

	"timecore.dev/node/crypto"
)

// writeCompactSize writes a Bitcoin-style variable-length integer: the
// canonical way this pack's wire formats encode counts and byte-string
// lengths without a fixed-width ceiling.
func writeCompactSize(buf *bytes.Buffer, n uint64) {
	switch {
	case n < 0xfd:
		buf.WriteByte(byte(n))
	case n <= 0xffff:
		buf.WriteByte(0xfd)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(n))
		buf.Write(b[:])
	case n <= 0xffffffff:
		buf.WriteByte(0xfe)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(n))
		buf.Write(b[:])
	default:
		buf.WriteByte(0xff)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], n)
		buf.Write(b[:])
	}
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeCompactSize(buf, uint64(len(b)))
	buf.Write(b)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// SerializeTransaction produces the canonical byte encoding whose SHA-256 is
// the transaction's txid. Field order: version, inputs, outputs, lock_time,
// timestamp — per spec.md §3.
func SerializeTransaction(tx Transaction) []byte {
	var buf bytes.Buffer
	writeU32(&buf, tx.Version)

	writeCompactSize(&buf, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf.Write(in.PreviousOutput.Txid[:])
		writeU32(&buf, in.PreviousOutput.Vout)
		writeBytes(&buf, in.ScriptSig)
		writeU32(&buf, in.Sequence)
	}

	writeCompactSize(&buf, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		writeU64(&buf, out.Value)
		writeBytes(&buf, out.ScriptPubKey)
	}

	writeU32(&buf, tx.LockTime)
	writeU64(&buf, tx.Timestamp)
	return buf.Bytes()
}

// Txid hashes a transaction's canonical serialization. See spec.md §3.
func Txid(tx Transaction) [32]byte {
	return crypto.Hash256(SerializeTransaction(tx))
}

// SerializeBlockHeader produces the canonical byte encoding whose SHA-256 is
// the block hash. See spec.md §3.
func SerializeBlockHeader(h BlockHeader) []byte {
	var buf bytes.Buffer
	writeU64(&buf, h.Height)
	buf.Write(h.PreviousHash[:])
	buf.Write(h.MerkleRoot[:])
	writeU64(&buf, h.Timestamp)
	writeBytes(&buf, h.ValidatorSignature)
	for _, c := range h.MasternodeCountsByTier {
		writeU64(&buf, c)
	}
	if h.ProofOfTime != nil {
		buf.WriteByte(1)
		writeU64(&buf, h.ProofOfTime.Iterations)
		buf.Write(h.ProofOfTime.Output[:])
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// BlockHash hashes a block header's canonical serialization. See spec.md §3.
func BlockHash(h BlockHeader) [32]byte {
	return crypto.Hash256(SerializeBlockHeader(h))
}

// VotePreimage is the byte sequence a Vote's signature is computed over: all
// fields preceding the signature itself. See spec.md §3.
func VotePreimage(v Vote) []byte {
	var buf bytes.Buffer
	buf.Write(v.Target[:])
	writeBytes(&buf, []byte(v.VoterAddr))
	if v.Approve {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(v.Timestamp))
	buf.Write(ts[:])
	return buf.Bytes()
}
