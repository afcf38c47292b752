package consensus

import (
	"bytes"
	"crypto/ed25519"

	"timecore.dev/node/crypto"
)

// SignatureHash returns the digest an input's ScriptSig signs: the
// transaction's canonical serialization with every ScriptSig blanked out,
// so a signature never has to commit to itself (SerializeTransaction folds
// ScriptSig into the txid preimage otherwise).
func SignatureHash(tx Transaction) [32]byte {
	stripped := tx
	stripped.Inputs = make([]TxInput, len(tx.Inputs))
	for i, in := range tx.Inputs {
		stripped.Inputs[i] = TxInput{PreviousOutput: in.PreviousOutput, Sequence: in.Sequence}
	}
	return crypto.Hash256(SerializeTransaction(stripped))
}

// VerifyInputSignature reports whether in.ScriptSig (the spender's Ed25519
// public key followed by its signature) authorizes spending prevOut: the
// embedded key must hash to the address prevOut.ScriptPubKey encodes (the
// pay-to-address convention ownerOf uses), and the signature must verify
// over sigHash.
func VerifyInputSignature(in TxInput, prevOut TxOutput, sigHash [32]byte) bool {
	if len(in.ScriptSig) != ed25519.PublicKeySize+ed25519.SignatureSize {
		return false
	}
	pub := in.ScriptSig[:ed25519.PublicKeySize]
	sig := in.ScriptSig[ed25519.PublicKeySize:]
	_, wantHash, err := crypto.DecodeAddress(string(prevOut.ScriptPubKey))
	if err != nil {
		return false
	}
	if !bytes.Equal(crypto.Hash160(pub), wantHash[:]) {
		return false
	}
	return crypto.Verify(pub, sigHash[:], sig)
}
