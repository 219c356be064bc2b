package service

import "testing"

func TestNormalizeUsername(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"alice", "alice", false},
		{"  Alice_01 ", "alice_01", false},
		{"AB", "", true},           // 太短
		{"has space", "", true},    // 空格
		{"emoji🙂", "", true},       // 非法字符
		{"", "", true},             // 空
		{"this_name_is_way_too_long_for_us", "", true},
	}
	for _, c := range cases {
		got, err := NormalizeUsername(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("NormalizeUsername(%q): want error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeUsername(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizeUsername(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
