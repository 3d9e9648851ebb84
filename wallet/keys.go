package wallet

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/datagate-io/datagate"
)

// loadPrivateKey resolves the signing key from whichever source the config
// provides, in order of precedence: raw hex key, mnemonic, keystore file.
func loadPrivateKey(cfg Config) (*ecdsa.PrivateKey, error) {
	switch {
	case cfg.PrivateKey != "":
		return keyFromHex(cfg.PrivateKey)
	case cfg.Mnemonic != "":
		return keyFromMnemonic(cfg.Mnemonic, cfg.MnemonicIndex)
	case cfg.KeystorePath != "":
		return keyFromKeystore(cfg.KeystorePath, cfg.KeystorePassword)
	default:
		return nil, fmt.Errorf("%w: no signing key source", datagate.ErrWalletNotConfigured)
	}
}

func keyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// keyFromMnemonic derives the signing key from a BIP39 mnemonic phrase along
// the standard Ethereum path m/44'/60'/0'/0/{index}.
func keyFromMnemonic(mnemonic string, index uint32) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, datagate.ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")

	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datagate.ErrInvalidMnemonic, err)
	}

	// m/44'/60'/0'/0/{index}
	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild + 0,
		0,
		index,
	}
	key := masterKey
	for _, child := range path {
		key, err = key.NewChildKey(child)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", datagate.ErrInvalidMnemonic, err)
		}
	}

	privateKey, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datagate.ErrInvalidMnemonic, err)
	}
	return privateKey, nil
}

// keyFromKeystore decrypts a geth keystore file with the given password.
func keyFromKeystore(path, password string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datagate.ErrInvalidKeystore, err)
	}

	var keyJSON struct {
		Crypto keystore.CryptoJSON `json:"crypto"`
	}
	if err := json.Unmarshal(data, &keyJSON); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format", datagate.ErrInvalidKeystore)
	}

	privateKeyBytes, err := keystore.DecryptDataV3(keyJSON.Crypto, password)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed", datagate.ErrInvalidKeystore)
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key", datagate.ErrInvalidKeystore)
	}
	return privateKey, nil
}
