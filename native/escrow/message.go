package escrow

import (
	"crypto/ecdsa"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// releaseDomainTag anchors release authorizations to this protocol so a
// signature can never be replayed against another message format.
const releaseDomainTag = "RELEASE"

const signedMessagePrefix = "\x19Ethereum Signed Message:\n32"

// ReleaseDigest computes the canonical message hash a depositor signs to
// authorize a release: keccak256 of the domain tag, the agreement's own
// address and the amount as a 32-byte big-endian word. Binding the instance
// address into the digest prevents cross-agreement replay.
func ReleaseDigest(agreement [20]byte, amount *big.Int) [32]byte {
	amt := []byte{}
	if amount != nil {
		amt = amount.Bytes()
	}
	digest := ethcrypto.Keccak256([]byte(releaseDomainTag), agreement[:], ethcommon.LeftPadBytes(amt, 32))
	var out [32]byte
	copy(out[:], digest)
	return out
}

// releaseSignedHash wraps the canonical digest in the signed-message
// convention used by standard wallet tooling.
func releaseSignedHash(agreement [20]byte, amount *big.Int) []byte {
	digest := ReleaseDigest(agreement, amount)
	return ethcrypto.Keccak256([]byte(signedMessagePrefix), digest[:])
}

// SignRelease produces the 65-byte (r,s,v) release authorization for the
// given agreement and amount. The recovery byte is emitted as 27/28, the
// form wallets produce.
func SignRelease(key *ecdsa.PrivateKey, agreement [20]byte, amount *big.Int) ([]byte, error) {
	sig, err := ethcrypto.Sign(releaseSignedHash(agreement, amount), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverReleaseSigner recovers the address that signed a release
// authorization. The signature must be exactly 65 bytes with a recovery byte
// of 0/1 or 27/28.
func RecoverReleaseSigner(agreement [20]byte, amount *big.Int, signature []byte) ([20]byte, error) {
	if len(signature) != 65 {
		return [20]byte{}, ErrInvalidSignatureLength
	}
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return [20]byte{}, ErrInvalidSignature
	}
	pubKey, err := ethcrypto.SigToPub(releaseSignedHash(agreement, amount), sig)
	if err != nil {
		return [20]byte{}, ErrInvalidSignature
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	var out [20]byte
	copy(out[:], recovered.Bytes())
	return out, nil
}
