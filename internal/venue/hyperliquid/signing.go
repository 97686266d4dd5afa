package hyperliquid

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

const exchangeChainID = 1337

var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	agentTypeHash  = crypto.Keccak256Hash([]byte("Agent(string source,bytes32 connectionId)"))

	bytes32Ty = mustABIType("bytes32")
	uint256Ty = mustABIType("uint256")
	addressTy = mustABIType("address")
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// actionHash is the connection id of an L1 action: keccak256 over the msgpack
// encoded action, the big-endian nonce and the optional vault address.
func actionHash(action any, vault string, nonce int64) (common.Hash, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return common.Hash{}, fmt.Errorf("msgpack action: %w", err)
	}

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(nonce))
	buf.Write(n[:])

	if vault == "" {
		buf.WriteByte(0x00)
	} else {
		buf.WriteByte(0x01)
		buf.Write(common.HexToAddress(vault).Bytes())
	}
	return crypto.Keccak256Hash(buf.Bytes()), nil
}

func domainSeparator() (common.Hash, error) {
	encoded, err := abi.Arguments{
		{Type: bytes32Ty},
		{Type: bytes32Ty},
		{Type: bytes32Ty},
		{Type: uint256Ty},
		{Type: addressTy},
	}.Pack(
		domainTypeHash,
		crypto.Keccak256Hash([]byte("Exchange")),
		crypto.Keccak256Hash([]byte("1")),
		big.NewInt(exchangeChainID),
		common.Address{},
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// agentDigest is the EIP-712 digest of the phantom agent signed for an action.
func agentDigest(connectionID common.Hash, mainnet bool) (common.Hash, error) {
	source := "b"
	if mainnet {
		source = "a"
	}
	sep, err := domainSeparator()
	if err != nil {
		return common.Hash{}, err
	}
	encoded, err := abi.Arguments{
		{Type: bytes32Ty},
		{Type: bytes32Ty},
		{Type: bytes32Ty},
	}.Pack(agentTypeHash, crypto.Keccak256Hash([]byte(source)), connectionID)
	if err != nil {
		return common.Hash{}, err
	}
	structHash := crypto.Keccak256Hash(encoded)

	raw := make([]byte, 0, 2+32+32)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, sep.Bytes()...)
	raw = append(raw, structHash.Bytes()...)
	return crypto.Keccak256Hash(raw), nil
}

// signL1Action signs action for submission to the exchange endpoint.
func signL1Action(key *ecdsa.PrivateKey, action any, vault string, nonce int64, mainnet bool) (signatureWire, error) {
	connectionID, err := actionHash(action, vault, nonce)
	if err != nil {
		return signatureWire{}, err
	}
	digest, err := agentDigest(connectionID, mainnet)
	if err != nil {
		return signatureWire{}, err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return signatureWire{}, err
	}
	return signatureWire{
		R: hexutilEncode(sig[:32]),
		S: hexutilEncode(sig[32:64]),
		V: sig[64] + 27,
	}, nil
}

func hexutilEncode(b []byte) string {
	return "0x" + common.Bytes2Hex(b)
}

// parsePrivateKey accepts a hex key with or without the 0x prefix.
func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse hyperliquid private key: %w", err)
	}
	return key, nil
}
