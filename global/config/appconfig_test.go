package config

import "testing"

// 消费组默认按节点派生：两个网关节点不能共享一个 Kafka 消费组，
// 否则分区被瓜分，各节点的本地订阅者只能看到一半会话。
func TestKafkaGroupPerNode(t *testing.T) {
	t.Setenv("CHATX_KAFKA_GROUP", "")

	t.Setenv("CHATX_NODE_ID", "chatx_7")
	a := defaultAppConfig()
	t.Setenv("CHATX_NODE_ID", "chatx_8")
	b := defaultAppConfig()

	if a.GroupID == "" || b.GroupID == "" {
		t.Fatal("group id must be derived when unset")
	}
	if a.GroupID == b.GroupID {
		t.Fatalf("nodes share kafka group %q", a.GroupID)
	}
	if a.GroupID != "chatx-sync-chatx_7" {
		t.Fatalf("unexpected derived group %q", a.GroupID)
	}
}

func TestKafkaGroupEnvOverride(t *testing.T) {
	t.Setenv("CHATX_KAFKA_GROUP", "ops-pinned-group")
	if got := defaultAppConfig().GroupID; got != "ops-pinned-group" {
		t.Fatalf("env override ignored, got %q", got)
	}
}
