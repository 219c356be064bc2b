package mongoutil

import "testing"

func TestValidateAndSetDefaults(t *testing.T) {
	c := &Config{Address: []string{"127.0.0.1:27017"}, Database: "chatx", Username: "root", Password: "example"}
	if err := c.ValidateAndSetDefaults(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.MaxPoolSize != defaultMaxPoolSize || c.MaxRetry != defaultMaxRetry {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.Uri == "" {
		t.Fatal("uri should be derived from address")
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	if err := (&Config{Database: "chatx"}).ValidateAndSetDefaults(); err == nil {
		t.Fatal("missing uri/address must error")
	}
	if err := (&Config{Uri: "mongodb://localhost:27017"}).ValidateAndSetDefaults(); err == nil {
		t.Fatal("missing database must error")
	}
}
