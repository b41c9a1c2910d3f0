package conf

import "testing"

func TestTransportSetDefaultsKCP(t *testing.T) {
	tr := Transport{Type: "kcp"}
	tr.setDefaults()

	if tr.KCP == nil {
		t.Fatal("KCP config should be initialized")
	}
	if tr.KCP.Mode != "fast3" {
		t.Errorf("expected KCP mode=fast3, got %s", tr.KCP.Mode)
	}
	if tr.KCP.MTU != 1400 {
		t.Errorf("expected KCP mtu=1400, got %d", tr.KCP.MTU)
	}
}

func TestTransportSetDefaultsTLS(t *testing.T) {
	tr := Transport{Type: "tls"}
	tr.setDefaults()

	if tr.TLS == nil {
		t.Fatal("TLS config should be initialized")
	}
	if tr.TLS.DialTimeout == 0 {
		t.Errorf("expected a default dial timeout")
	}
}

func TestTransportValidateInvalidType(t *testing.T) {
	tr := Transport{Type: "websocket"}
	errs := tr.validate()
	if len(errs) == 0 {
		t.Fatal("expected validation error for invalid transport type")
	}
}

func TestTransportValidateKCPNilConfig(t *testing.T) {
	tr := Transport{Type: "kcp", KCP: nil}
	errs := tr.validate()
	found := false
	for _, e := range errs {
		if e.Error() == "transport.kcp configuration is required when type is 'kcp'" {
			found = true
		}
	}
	if !found {
		t.Error("expected error for nil KCP config")
	}
}

func TestTransportValidateKCPMissingKey(t *testing.T) {
	tr := Transport{Type: "kcp", KCP: &KCP{}}
	errs := tr.validate()
	found := false
	for _, e := range errs {
		if e.Error() == "transport.kcp.key is required" {
			found = true
		}
	}
	if !found {
		t.Error("expected error for missing KCP key")
	}
}

func TestTransportValidateNoiseValid(t *testing.T) {
	tr := Transport{Type: "noise", Noise: &Noise{Key: "shared-secret"}}
	errs := tr.validate()
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestTransportValidateTCPValid(t *testing.T) {
	tr := Transport{Type: "tcp", TCP: &TCP{}}
	errs := tr.validate()
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}
