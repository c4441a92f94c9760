package agent

import (
	"strings"
	"testing"

	"OnchainAgent/internal/registry"
)

func TestExtractAddress(t *testing.T) {
	first := "0x" + strings.Repeat("a", 40)
	second := "0x" + strings.Repeat("B", 40)

	cases := []struct {
		name   string
		action string
		text   string
		want   string
		ok     bool
	}{
		{"token", ActionDeployToken, "Deployed token at " + first, first, true},
		{"first match wins", ActionDeployNFT, first + " then " + second, first, true},
		{"case preserved", ActionDeployToken, "at " + second + ".", second, true},
		{"not a deploy action", "get_balance", "balance of " + first, "", false},
		{"no address", ActionDeployNFT, "deployment pending", "", false},
		{"too short", ActionDeployToken, "0x1234", "", false},
		{"empty", ActionDeployToken, "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractAddress(tc.action, tc.text)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("ExtractAddress(%q, %q) = (%q, %v), want (%q, %v)", tc.action, tc.text, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestDeployKind(t *testing.T) {
	if kind, ok := DeployKind(ActionDeployToken); !ok || kind != registry.KindToken {
		t.Fatalf("deploy_token mapped to %q, %v", kind, ok)
	}
	if kind, ok := DeployKind(ActionDeployNFT); !ok || kind != registry.KindNFT {
		t.Fatalf("deploy_nft mapped to %q, %v", kind, ok)
	}
	if _, ok := DeployKind("get_latest_block"); ok {
		t.Fatal("get_latest_block is not a deploy action")
	}
}
