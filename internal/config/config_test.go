package config

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "STORE_DRIVER", "REDIS_ADDR", "KAFKA_BROKERS", "DELIVERY_GRACE_PERIOD", "NOTIFIER_WORKERS", "NOTIFIER_GROUP", "ESCALATION_GROUP"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	check.Equal(t, ":8081", cfg.HTTPAddr)
	check.Equal(t, "postgres", cfg.StoreDriver)
	check.Equal(t, "", cfg.RedisAddr)
	check.Equal(t, 0, len(cfg.KafkaBrokers))
	check.Equal(t, 72*time.Hour, cfg.DeliveryGracePeriod)
	check.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	check.Equal(t, 4, cfg.NotifierWorkers)
	check.Equal(t, "auction-notifier", cfg.NotifierGroup)
	check.Equal(t, "auction-notifier-escalation", cfg.EscalationGroup)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DELIVERY_GRACE_PERIOD", "48h")
	t.Setenv("HEARTBEAT_TIMEOUT", "nonsense")
	t.Setenv("NOTIFIER_WORKERS", "-2")
	t.Setenv("NOTIFIER_GROUP", "notif-v2")
	t.Setenv("ESCALATION_GROUP", "")

	cfg := Load()
	check.Equal(t, "memory", cfg.StoreDriver)
	check.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	check.Equal(t, 48*time.Hour, cfg.DeliveryGracePeriod)
	check.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	check.Equal(t, 4, cfg.NotifierWorkers)
	check.Equal(t, "notif-v2", cfg.NotifierGroup)
	check.Equal(t, "notif-v2-escalation", cfg.EscalationGroup)
	check.NotEqual(t, cfg.NotifierGroup, cfg.EscalationGroup)
}
