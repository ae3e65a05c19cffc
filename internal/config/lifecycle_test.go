package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticLifecycleConfigHolderNormalizes(t *testing.T) {
	holder := NewStaticLifecycleConfigHolder(LifecycleConfig{
		Renewal: RenewalPolicy{ChargeMode: " Gateway ", BatchSize: 25},
	})

	cfg := holder.Get()
	assert.Equal(t, ChargeModeGateway, cfg.Renewal.ChargeMode)
	assert.Equal(t, 25, cfg.Renewal.BatchSize)
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *LifecycleConfigHolder
	assert.Equal(t, DefaultLifecycleConfig(), holder.Get())
}

func TestValidateLifecycleConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     LifecycleConfig
		wantErr bool
	}{
		{name: "defaults", cfg: DefaultLifecycleConfig()},
		{name: "unknown charge mode", cfg: LifecycleConfig{Renewal: RenewalPolicy{ChargeMode: "invoice"}}, wantErr: true},
		{name: "negative batch", cfg: LifecycleConfig{Renewal: RenewalPolicy{ChargeMode: ChargeModeInternal, BatchSize: -1}}, wantErr: true},
		{name: "negative ttl", cfg: LifecycleConfig{Renewal: RenewalPolicy{ChargeMode: ChargeModeInternal}, Limits: LimitsPolicy{PlanCacheTTL: -time.Second}}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateLifecycleConfig(tc.cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"ops@example.com", "root"}, parseList(" ops@example.com ,, root "))
	assert.Empty(t, parseList(""))
}
