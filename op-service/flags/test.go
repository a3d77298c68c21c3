package flags

import (
	"flag"
	"os"

	"github.com/yhl125/op-soak/op-service/log"
)

var flLoadTest = flag.Bool("loadtest", false, "Enable load tests against a live endpoint during test run")

type TestConfig struct {
	LogConfig       log.CLIConfig
	EnableLoadTests bool
	// RPCURL is the endpoint live load tests run against.
	RPCURL string
	// PrivateKey funds the identities of live load tests.
	PrivateKey string
}

func ReadTestConfig() TestConfig {
	flag.Parse()

	loadTest := *flLoadTest
	if v := os.Getenv("NAT_LOADTEST"); v != "" {
		loadTest = v == "true"
	}
	cfg := log.DefaultCLIConfig()
	if v := os.Getenv("NAT_LOG_LEVEL"); v != "" {
		if lvl, err := log.LevelFromString(v); err == nil {
			cfg.Level = lvl
		}
	}
	rpc := os.Getenv("NAT_RPC_URL")
	if rpc == "" {
		rpc = "http://localhost:8545"
	}

	return TestConfig{
		EnableLoadTests: loadTest,
		LogConfig:       cfg,
		RPCURL:          rpc,
		PrivateKey:      os.Getenv("NAT_PRIVATE_KEY"),
	}
}
