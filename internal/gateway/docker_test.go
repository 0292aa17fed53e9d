package gateway

import "testing"

func TestContainerIDRe(t *testing.T) {
	valid := []string{"abc123", "my_container-1", "CONTAINER"}
	for _, v := range valid {
		if !containerIDRe.MatchString(v) {
			t.Errorf("expected %q to be a valid container id", v)
		}
	}

	invalid := []string{"", "abc 123", "abc;rm -rf /", "abc$(whoami)", "../etc/passwd"}
	for _, v := range invalid {
		if containerIDRe.MatchString(v) {
			t.Errorf("expected %q to be rejected as a container id", v)
		}
	}
}

func TestSingleContainerStats_RejectsInvalidID(t *testing.T) {
	_, err := singleContainerStats(nil, nil, "abc; rm -rf /")
	if err == nil {
		t.Fatalf("expected error for invalid containerId")
	}
	gwErr, ok := err.(*Error)
	if !ok || gwErr.Kind != KindProtocol {
		t.Fatalf("expected KindProtocol error, got %#v", err)
	}
}
