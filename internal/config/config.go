package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"raffled/internal/logger"
	"raffled/internal/raffle"

	"github.com/joho/godotenv"
)

type Network string

const (
	Localnet Network = "localnet"
	Testnet  Network = "testnet"
	Mainnet  Network = "mainnet"
)

// NanotonsPerTon is the number of payout units in one TON.
const NanotonsPerTon = 1_000_000_000

type preset struct {
	entranceFee      raffle.Amount
	interval         time.Duration
	keyHash          string
	callbackGasLimit uint32
}

var presets = map[Network]preset{
	Localnet: {
		entranceFee:      NanotonsPerTon / 100,
		interval:         30 * time.Second,
		keyHash:          "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c",
		callbackGasLimit: 500_000,
	},
	Testnet: {
		entranceFee:      NanotonsPerTon / 100,
		interval:         30 * time.Second,
		keyHash:          "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c",
		callbackGasLimit: 500_000,
	},
	Mainnet: {
		entranceFee:      NanotonsPerTon / 10,
		interval:         24 * time.Hour,
		keyHash:          "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c",
		callbackGasLimit: 500_000,
	},
}

type Configuration struct {
	Network      Network
	Raffle       raffle.Config
	OracleSeed   uint64
	BlockTime    time.Duration
	PollInterval time.Duration
	DatabasePath string
	Logger       logger.Configuration

	RaffleAddress  string
	WalletMnemonic string
	WalletVersion  string
	TonapiToken    string
}

// IsDevelopment reports whether the raffle runs against the in-process ledger.
func (c *Configuration) IsDevelopment() bool {
	return c.Network == Localnet
}

func (c *Configuration) IsTestnet() bool {
	return c.Network == Testnet
}

// Load reads envFile (when present) into the environment and builds the
// configuration from the network preset overridden by environment values.
// The oracle subscription id is left zero: it is assigned by the coordinator
// at startup.
func Load(envFile string) (*Configuration, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	network := Network(getString("RAFFLE_NETWORK", string(Localnet)))
	p, ok := presets[network]
	if !ok {
		return nil, fmt.Errorf("config: unknown network %q", network)
	}

	var errs []error
	c := &Configuration{
		Network: network,
		Raffle: raffle.Config{
			EntranceFee:          raffle.Amount(getUint(&errs, "RAFFLE_ENTRANCE_FEE", uint64(p.entranceFee), 64)),
			Interval:             time.Duration(getUint(&errs, "RAFFLE_INTERVAL_SECONDS", uint64(p.interval/time.Second), 32)) * time.Second,
			KeyHash:              getString("ORACLE_KEY_HASH", p.keyHash),
			RequestConfirmations: uint16(getUint(&errs, "ORACLE_REQUEST_CONFIRMATIONS", uint64(raffle.DefaultRequestConfirmations), 16)),
			CallbackGasLimit:     uint32(getUint(&errs, "ORACLE_CALLBACK_GAS_LIMIT", uint64(p.callbackGasLimit), 32)),
			NumWords:             raffle.DefaultNumWords,
		},
		OracleSeed:   getUint(&errs, "ORACLE_SEED", 0, 64),
		BlockTime:    time.Duration(getUint(&errs, "ORACLE_BLOCK_TIME_MS", 1000, 32)) * time.Millisecond,
		PollInterval: time.Duration(getUint(&errs, "UPKEEP_POLL_SECONDS", 5, 32)) * time.Second,
		DatabasePath: getString("DATABASE_PATH", "persistent.db"),
		Logger: logger.Configuration{
			LogFile:   getString("LOG_FILE", ""),
			ErrorFile: getString("LOG_ERROR_FILE", ""),
			Level:     getString("LOG_LEVEL", "info"),
			Console:   getBool(&errs, "LOG_CONSOLE", true),
		},
		RaffleAddress:  getString("RAFFLE_ADDRESS", ""),
		WalletMnemonic: getString("WALLET_MNEMONIC", ""),
		WalletVersion:  getString("WALLET_VERSION", "V4R2"),
		TonapiToken:    getString("TONAPI_TOKEN", ""),
	}

	if c.Raffle.EntranceFee == 0 {
		errs = append(errs, errors.New("RAFFLE_ENTRANCE_FEE must be positive"))
	}
	if c.Raffle.RequestConfirmations == 0 {
		errs = append(errs, errors.New("ORACLE_REQUEST_CONFIRMATIONS must be positive"))
	}
	if c.BlockTime <= 0 {
		errs = append(errs, errors.New("ORACLE_BLOCK_TIME_MS must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("UPKEEP_POLL_SECONDS must be positive"))
	}
	if !c.IsDevelopment() {
		if c.RaffleAddress == "" {
			errs = append(errs, errors.New("RAFFLE_ADDRESS is required outside localnet"))
		}
		if c.WalletMnemonic == "" {
			errs = append(errs, errors.New("WALLET_MNEMONIC is required outside localnet"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

func getString(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getUint(errs *[]error, key string, fallback uint64, bits int) uint64 {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}

	parsed, err := strconv.ParseUint(value, 10, bits)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return parsed
}

func getBool(errs *[]error, key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return parsed
}
