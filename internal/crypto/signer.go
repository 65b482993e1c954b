package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed keccak256 hashes of the canonical EIP-712 type strings.
var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// OrderPayload carries the twelve signed fields of a CLOB order. Addresses
// and uint256 values stay strings so JSON round trips never lose precision.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 buy, 1 sell
	SignatureType int    `json:"signatureType"` // 0 EOA, 1 proxy, 2 Gnosis safe
}

// Signer produces the EIP-712 signatures the CLOB requires for API-key
// derivation and order placement.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte
}

// NewSigner builds a Signer from a hex-encoded secp256k1 key. chainID is 137
// on Polygon mainnet, 80002 on Amoy.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domainSep = domainSeparator("ClobAuthDomain", "1", chainID)
	return s, nil
}

// Address returns the address derived from the signing key.
func (s *Signer) Address() common.Address { return s.address }

// SignAuthMessage signs the ClobAuth struct exchanged during API-key
// derivation. The result is a 0x-prefixed 65-byte r||s||v signature.
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(packed(
		clobAuthTypeHash,
		common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32),
		uint256Bytes(big.NewInt(timestamp)),
		uint256Bytes(big.NewInt(nonce)),
	))
	return s.signDigest(typedDataDigest(s.domainSep, structHash))
}

// SignOrder signs an Order struct for placement on the CLOB.
func (s *Signer) SignOrder(order OrderPayload) (string, error) {
	structHash, err := hashOrder(order)
	if err != nil {
		return "", err
	}
	return s.signDigest(typedDataDigest(s.domainSep, structHash))
}

// domainSeparator is keccak256(typeHash || nameHash || versionHash || chainId).
func domainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(packed(
		domainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		uint256Bytes(big.NewInt(int64(chainID))),
	))
}

// typedDataDigest is keccak256("\x19\x01" || domainSeparator || structHash).
func typedDataDigest(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(packed([]byte{0x19, 0x01}, domainSep, structHash))
}

// signDigest signs a 32-byte digest, mapping go-ethereum's v in {0,1} to the
// {27,28} the venue expects.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// hashOrder computes the EIP-712 struct hash of an order.
func hashOrder(o OrderPayload) ([]byte, error) {
	var parseErr error
	uint256 := func(field, v string) []byte {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			if parseErr == nil {
				parseErr = fmt.Errorf("crypto/signer: invalid %s %q", field, v)
			}
			return make([]byte, 32)
		}
		return uint256Bytes(n)
	}
	address := func(v string) []byte {
		return common.LeftPadBytes(common.HexToAddress(v).Bytes(), 32)
	}

	hash := ethcrypto.Keccak256(packed(
		orderTypeHash,
		uint256("salt", o.Salt),
		address(o.Maker),
		address(o.Signer),
		address(o.Taker),
		uint256("tokenId", o.TokenID),
		uint256("makerAmount", o.MakerAmount),
		uint256("takerAmount", o.TakerAmount),
		uint256("expiration", o.Expiration),
		uint256("nonce", o.Nonce),
		uint256("feeRateBps", o.FeeRateBps),
		uint256Bytes(big.NewInt(int64(o.Side))),
		uint256Bytes(big.NewInt(int64(o.SignatureType))),
	))
	if parseErr != nil {
		return nil, parseErr
	}
	return hash, nil
}

// uint256Bytes is the 32-byte big-endian encoding of n.
func uint256Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func packed(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
