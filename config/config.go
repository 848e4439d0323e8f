package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// BasisPointDenominator is the denominator used for all rate parameters.
const BasisPointDenominator = int64(10000)

type Config struct {
	// Node configuration
	NodeID   string `json:"node_id" yaml:"node_id" envconfig:"NODE_ID"`
	DataDir  string `json:"data_dir" yaml:"data_dir" envconfig:"DATA_DIR"`
	LogLevel string `json:"log_level" yaml:"log_level" envconfig:"LOG_LEVEL"`

	// Oracle lifecycle configuration
	Oracle OracleConfig `json:"oracle" yaml:"oracle"`

	// Staking configuration
	Staking StakingConfig `json:"staking" yaml:"staking"`

	// Slashing governance configuration
	Slashing SlashingConfig `json:"slashing" yaml:"slashing"`

	// Dispute arbitration configuration
	Arbitration ArbitrationConfig `json:"arbitration" yaml:"arbitration"`

	// Reward pool configuration
	Rewards RewardsConfig `json:"rewards" yaml:"rewards"`

	// API configuration
	API APIConfig `json:"api" yaml:"api"`
}

type OracleConfig struct {
	MinProposerBond int64         `json:"min_proposer_bond" yaml:"min_proposer_bond" envconfig:"MIN_PROPOSER_BOND"`
	MinDisputerBond int64         `json:"min_disputer_bond" yaml:"min_disputer_bond" envconfig:"MIN_DISPUTER_BOND"`
	LivenessPeriod  time.Duration `json:"liveness_period" yaml:"liveness_period" envconfig:"LIVENESS_PERIOD"`
	ConfidenceFloor int64         `json:"confidence_floor" yaml:"confidence_floor" envconfig:"CONFIDENCE_FLOOR"`

	// Reward split in basis points; the three rates must sum to 10000
	ProposerRewardRate int64 `json:"proposer_reward_rate" yaml:"proposer_reward_rate" envconfig:"PROPOSER_REWARD_RATE"`
	DisputerRewardRate int64 `json:"disputer_reward_rate" yaml:"disputer_reward_rate" envconfig:"DISPUTER_REWARD_RATE"`
	PlatformFeeRate    int64 `json:"platform_fee_rate" yaml:"platform_fee_rate" envconfig:"PLATFORM_FEE_RATE"`
}

type StakingConfig struct {
	MinStakeAmount  int64         `json:"min_stake_amount" yaml:"min_stake_amount" envconfig:"MIN_STAKE_AMOUNT"`
	MaxStakePerUser int64         `json:"max_stake_per_user" yaml:"max_stake_per_user" envconfig:"MAX_STAKE_PER_USER"`
	LockPeriod      time.Duration `json:"lock_period" yaml:"lock_period" envconfig:"LOCK_PERIOD"`
	RewardRate      int64         `json:"reward_rate" yaml:"reward_rate" envconfig:"REWARD_RATE"` // annual, basis points
}

type SlashingConfig struct {
	MinApprovals          int           `json:"min_approvals" yaml:"min_approvals" envconfig:"MIN_APPROVALS"`
	ExecutionDelay        time.Duration `json:"execution_delay" yaml:"execution_delay" envconfig:"EXECUTION_DELAY"`
	MaxSlashingRate       int64         `json:"max_slashing_rate" yaml:"max_slashing_rate" envconfig:"MAX_SLASHING_RATE"` // basis points
	PermanentBanThreshold int64         `json:"permanent_ban_threshold" yaml:"permanent_ban_threshold" envconfig:"PERMANENT_BAN_THRESHOLD"`

	// Reason-specific base rates in basis points
	FalseProposalRate     int64 `json:"false_proposal_rate" yaml:"false_proposal_rate"`
	FrivolousDisputeRate  int64 `json:"frivolous_dispute_rate" yaml:"frivolous_dispute_rate"`
	DowntimeRate          int64 `json:"downtime_rate" yaml:"downtime_rate"`
	MaliciousActivityRate int64 `json:"malicious_activity_rate" yaml:"malicious_activity_rate"`
	CollusionRate         int64 `json:"collusion_rate" yaml:"collusion_rate"`
	DataManipulationRate  int64 `json:"data_manipulation_rate" yaml:"data_manipulation_rate"`
	ProtocolViolationRate int64 `json:"protocol_violation_rate" yaml:"protocol_violation_rate"`
}

type ArbitrationConfig struct {
	VotingPeriod     time.Duration `json:"voting_period" yaml:"voting_period" envconfig:"VOTING_PERIOD"`
	MinArbitrators   int           `json:"min_arbitrators" yaml:"min_arbitrators" envconfig:"MIN_ARBITRATORS"`
	QuorumPercentage int           `json:"quorum_percentage" yaml:"quorum_percentage" envconfig:"QUORUM_PERCENTAGE"`
	AppealBond       int64         `json:"appeal_bond" yaml:"appeal_bond" envconfig:"APPEAL_BOND"`
}

type RewardsConfig struct {
	DefaultPoolExpiry time.Duration `json:"default_pool_expiry" yaml:"default_pool_expiry" envconfig:"DEFAULT_POOL_EXPIRY"`
}

type APIConfig struct {
	ListenAddr string  `json:"listen_addr" yaml:"listen_addr" envconfig:"API_LISTEN_ADDR"`
	EnableCORS bool    `json:"enable_cors" yaml:"enable_cors" envconfig:"API_ENABLE_CORS"`
	RateLimit  float64 `json:"rate_limit" yaml:"rate_limit" envconfig:"API_RATE_LIMIT"` // requests per second
	RateBurst  int     `json:"rate_burst" yaml:"rate_burst" envconfig:"API_RATE_BURST"`
}

// DefaultConfig returns the default protocol configuration
func DefaultConfig() *Config {
	return &Config{
		NodeID:   "predictlink-node",
		DataDir:  "./data",
		LogLevel: "info",
		Oracle: OracleConfig{
			MinProposerBond:    1000,
			MinDisputerBond:    500,
			LivenessPeriod:     2 * time.Hour,
			ConfidenceFloor:    8000,
			ProposerRewardRate: 6000, // 60%
			DisputerRewardRate: 3000, // 30%
			PlatformFeeRate:    1000, // 10%
		},
		Staking: StakingConfig{
			MinStakeAmount:  1000,
			MaxStakePerUser: 10000000,
			LockPeriod:      30 * 24 * time.Hour,
			RewardRate:      500, // 5% annual
		},
		Slashing: SlashingConfig{
			MinApprovals:          3,
			ExecutionDelay:        48 * time.Hour,
			MaxSlashingRate:       10000,
			PermanentBanThreshold: 100000,
			FalseProposalRate:     10000, // 100%
			FrivolousDisputeRate:  5000,  // 50%
			DowntimeRate:          100,   // 1%
			MaliciousActivityRate: 10000, // 100%
			CollusionRate:         10000, // 100%
			DataManipulationRate:  10000, // 100%
			ProtocolViolationRate: 3000,  // 30%
		},
		Arbitration: ArbitrationConfig{
			VotingPeriod:     24 * time.Hour,
			MinArbitrators:   5,
			QuorumPercentage: 60,
			AppealBond:       2000,
		},
		Rewards: RewardsConfig{
			DefaultPoolExpiry: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			ListenAddr: ":8545",
			EnableCORS: true,
			RateLimit:  50,
			RateBurst:  100,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and PREDICTLINK_* environment variable overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %v", path, err)
		}
	}

	if err := envconfig.Process("predictlink", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	return cfg, nil
}

// Validate checks configuration invariants before the node starts
func (c *Config) Validate() error {
	if c.Oracle.MinProposerBond <= 0 {
		return fmt.Errorf("min proposer bond must be positive: %d", c.Oracle.MinProposerBond)
	}

	if c.Oracle.MinDisputerBond <= 0 {
		return fmt.Errorf("min disputer bond must be positive: %d", c.Oracle.MinDisputerBond)
	}

	if c.Oracle.ConfidenceFloor < 0 || c.Oracle.ConfidenceFloor > BasisPointDenominator {
		return fmt.Errorf("confidence floor must be within [0, %d]: %d",
			BasisPointDenominator, c.Oracle.ConfidenceFloor)
	}

	split := c.Oracle.ProposerRewardRate + c.Oracle.DisputerRewardRate + c.Oracle.PlatformFeeRate
	if split != BasisPointDenominator {
		return fmt.Errorf("reward split must sum to %d basis points, got %d",
			BasisPointDenominator, split)
	}

	if c.Staking.MinStakeAmount <= 0 {
		return fmt.Errorf("min stake amount must be positive: %d", c.Staking.MinStakeAmount)
	}

	if c.Staking.MaxStakePerUser < c.Staking.MinStakeAmount {
		return fmt.Errorf("max stake per user (%d) below min stake amount (%d)",
			c.Staking.MaxStakePerUser, c.Staking.MinStakeAmount)
	}

	if c.Staking.RewardRate < 0 || c.Staking.RewardRate > BasisPointDenominator {
		return fmt.Errorf("staking reward rate must be within [0, %d]: %d",
			BasisPointDenominator, c.Staking.RewardRate)
	}

	if c.Slashing.MinApprovals < 1 {
		return fmt.Errorf("min approvals must be at least 1: %d", c.Slashing.MinApprovals)
	}

	if c.Slashing.MaxSlashingRate <= 0 || c.Slashing.MaxSlashingRate > BasisPointDenominator {
		return fmt.Errorf("max slashing rate must be within (0, %d]: %d",
			BasisPointDenominator, c.Slashing.MaxSlashingRate)
	}

	if c.Arbitration.MinArbitrators < 1 {
		return fmt.Errorf("min arbitrators must be at least 1: %d", c.Arbitration.MinArbitrators)
	}

	if c.Arbitration.QuorumPercentage <= 0 || c.Arbitration.QuorumPercentage > 100 {
		return fmt.Errorf("quorum percentage must be within (0, 100]: %d",
			c.Arbitration.QuorumPercentage)
	}

	return nil
}
