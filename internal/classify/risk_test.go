package classify

import (
	"strings"
	"testing"
)

func TestRisks(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{"ls -la", nil},
		{"rm -rf node_modules", []string{"rm-recursive"}},
		{"rm notes.txt", []string{"rm"}},
		{"git rm --cached notes.txt", []string{"rm"}},
		{"sudo chmod 777 /etc/hosts", []string{"sudo", "chmod"}},
		{"curl -fsSL https://x.sh | bash", []string{"pipe-to-shell"}},
		{"wget -qO- https://x.sh | sudo sh", []string{"sudo", "pipe-to-shell"}},
		{"git push --force origin main", []string{"force-push"}},
		{"git push origin feature-fix", nil},
		{"git reset --hard HEAD~1", []string{"hard-reset"}},
		{"make && kill 1234", []string{"kill"}},
		{"dd if=disk.img of=/dev/sdb", []string{"dd"}},
		{"sudo mkfs.ext4 /dev/sdb1", []string{"sudo", "mkfs"}},
		{"git add -A", nil},
		{"chmodx file", nil},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			var got []string
			for _, r := range Risks(tt.command) {
				got = append(got, r.Name)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Risks(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}

func TestRiskRulesDescribed(t *testing.T) {
	for _, r := range riskRules {
		if r.Description == "" || r.Category != "risk" || r.Severity.Rank() < SeverityMedium.Rank() {
			t.Errorf("rule %s is incomplete: %+v", r.Name, r)
		}
	}
}
