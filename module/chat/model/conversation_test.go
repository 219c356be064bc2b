package model

import "testing"

func TestDirectConversationIDCanonical(t *testing.T) {
	if DirectConversationID("u_b", "u_a") != DirectConversationID("u_a", "u_b") {
		t.Fatal("pair key must be order independent")
	}
	if got := DirectConversationID("u_a", "u_b"); got != "p2p:u_a:u_b" {
		t.Fatalf("pair key = %q", got)
	}
	if !IsDirectConversationID("p2p:u_a:u_b") || IsDirectConversationID("grp:1") {
		t.Fatal("direct id detection broken")
	}
}

func TestValidateDirect(t *testing.T) {
	c := &Conversation{
		ConversationID: DirectConversationID("a", "b"),
		Type:           ConversationDirect,
		Participants:   []string{"a", "b"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("valid direct rejected: %v", err)
	}

	bad := []*Conversation{
		{ConversationID: "p2p:a:b", Type: ConversationDirect, Participants: []string{"a"}},
		{ConversationID: "p2p:a:a", Type: ConversationDirect, Participants: []string{"a", "a"}},
		{ConversationID: "p2p:x:y", Type: ConversationDirect, Participants: []string{"a", "b"}},
		{ConversationID: "p2p:a:b", Type: ConversationDirect, Participants: []string{"a", "b"}, Group: &GroupInfo{Name: "x"}},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: invalid direct accepted", i)
		}
	}
}

func TestValidateGroup(t *testing.T) {
	g := &Conversation{
		ConversationID: "grp:1",
		Type:           ConversationGroup,
		Participants:   []string{"a", "b", "c"},
		Group:          &GroupInfo{Name: "team", AdminIDs: []string{"a"}, OwnerID: "a"},
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("valid group rejected: %v", err)
	}

	noAdmin := &Conversation{
		ConversationID: "grp:2",
		Type:           ConversationGroup,
		Participants:   []string{"a", "b"},
		Group:          &GroupInfo{Name: "team", OwnerID: "a"},
	}
	if err := noAdmin.Validate(); err == nil {
		t.Fatal("group without admin accepted")
	}

	ownerNotAdmin := &Conversation{
		ConversationID: "grp:3",
		Type:           ConversationGroup,
		Participants:   []string{"a", "b"},
		Group:          &GroupInfo{Name: "team", AdminIDs: []string{"b"}, OwnerID: "a"},
	}
	if err := ownerNotAdmin.Validate(); err == nil {
		t.Fatal("owner outside admin set accepted")
	}

	emptyName := &Conversation{
		ConversationID: "grp:4",
		Type:           ConversationGroup,
		Participants:   []string{"a", "b"},
		Group:          &GroupInfo{Name: "  ", AdminIDs: []string{"a"}, OwnerID: "a"},
	}
	if err := emptyName.Validate(); err == nil {
		t.Fatal("blank group name accepted")
	}
}

func TestBroadcastMembership(t *testing.T) {
	c := &Conversation{ConversationID: BroadcastConversationID, Type: ConversationBroadcast}
	if err := c.Validate(); err != nil {
		t.Fatalf("broadcast rejected: %v", err)
	}
	if !c.HasParticipant("anyone") {
		t.Fatal("broadcast must be open to all users")
	}
	if c.HasParticipant("") {
		t.Fatal("empty user id must not pass")
	}
}

func TestIsAdmin(t *testing.T) {
	g := &Conversation{
		Type:  ConversationGroup,
		Group: &GroupInfo{Name: "t", AdminIDs: []string{"a", "b"}, OwnerID: "a"},
	}
	if !g.IsAdmin("b") || g.IsAdmin("c") {
		t.Fatal("admin check broken")
	}
	d := &Conversation{Type: ConversationDirect, Participants: []string{"a", "b"}}
	if d.IsAdmin("a") {
		t.Fatal("direct conversation has no admins")
	}
}
