package timebank

import "fmt"

// Config carries the ledger policy knobs. Amounts are whole minutes; the
// floor is usually negative (members may owe time up to the floor).
type Config struct {
	InitialGrantMinutes    int64
	MinBalanceFloorMinutes int64
}

const (
	defaultInitialGrantMinutes    = 5 * minutesPerHour
	defaultMinBalanceFloorMinutes = -10 * minutesPerHour
)

// DefaultConfig returns the stock policy: 5.0h starting credit, -10.0h floor.
func DefaultConfig() Config {
	return Config{
		InitialGrantMinutes:    defaultInitialGrantMinutes,
		MinBalanceFloorMinutes: defaultMinBalanceFloorMinutes,
	}
}

// Validate rejects configurations the engine cannot honor.
func (config Config) Validate() error {
	if config.InitialGrantMinutes < 0 {
		return fmt.Errorf("%w: initial grant must not be negative", ErrInvalidConfig)
	}
	if config.MinBalanceFloorMinutes > 0 {
		return fmt.Errorf("%w: balance floor must not be positive", ErrInvalidConfig)
	}
	return nil
}
