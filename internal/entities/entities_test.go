package entities

import "testing"

func TestUserValid(t *testing.T) {
	tests := []struct {
		name string
		user User
		want bool
	}{
		{
			name: "valid",
			user: User{Name: "alice", UID: 1001, GID: 1001, Gecos: "Alice A", Dir: "/home/alice", Shell: "/bin/bash"},
			want: true,
		},
		{
			name: "name uppercase",
			user: User{Name: "Alice", Dir: "/home/alice", Shell: "/bin/bash"},
			want: false,
		},
		{
			name: "gecos contains colon",
			user: User{Name: "alice", Gecos: "Alice:A", Dir: "/home/alice", Shell: "/bin/bash"},
			want: false,
		},
		{
			name: "shell contains newline",
			user: User{Name: "alice", Dir: "/home/alice", Shell: "/bin/bash\n"},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroupValid(t *testing.T) {
	tests := []struct {
		name  string
		group Group
		want  bool
	}{
		{
			name:  "valid",
			group: Group{Name: "eng", GID: 2000, Members: []string{"alice", "bob"}},
			want:  true,
		},
		{
			name:  "bad member name",
			group: Group{Name: "eng", GID: 2000, Members: []string{"Alice"}},
			want:  false,
		},
		{
			name:  "bad group name",
			group: Group{Name: "9eng", GID: 2000},
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.group.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthorizedKeysValid(t *testing.T) {
	ak := AuthorizedKeys{Keys: []string{"ssh-rsa AAA...", "ssh-ed25519 BBB..."}}
	if !ak.Valid() {
		t.Error("expected valid")
	}
	bad := AuthorizedKeys{Keys: []string{"ssh-rsa AAA...\nssh-rsa CCC..."}}
	if bad.Valid() {
		t.Error("expected invalid due to embedded newline")
	}
}
