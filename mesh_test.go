package chainvault

import "testing"

func TestDialRemotePipeRejectsInvalidURL(t *testing.T) {
	_, err := DialRemotePipe(":not a url:", "node", NewChainKey("example.com", ""), nil)
	ce, ok := err.(*CommsError)
	if !ok || ce.Kind != CommsErrInvalidDomainName {
		t.Fatalf("got %v, want CommsErrInvalidDomainName", err)
	}
}

func TestDialRemotePipeRefusedWhenNoServerListening(t *testing.T) {
	_, err := DialRemotePipe("ws://127.0.0.1:1/doesnotexist", "node", NewChainKey("example.com", ""), nil)
	ce, ok := err.(*CommsError)
	if !ok || ce.Kind != CommsErrRefused {
		t.Fatalf("got %v, want CommsErrRefused for a peer that refuses the connection", err)
	}
}

func TestMeshServerUnlockRoundTrip(t *testing.T) {
	srv, _ := startTestMeshServer(t)
	domain := NewChainKey("example.com", "unlock")
	pipe, err := DialRemotePipe(wsURL(srv.URL), "client-node", domain, nil)
	if err != nil {
		t.Fatalf("DialRemotePipe: %v", err)
	}
	defer pipe.Close()

	if err := pipe.Unlock(PrimaryKey(7)); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}
