package dml

import "testing"

func TestConnectionStatsRoundTrip(t *testing.T) {
	msg := Message{
		"ServerHostname": []byte("login.us.wizard101.com"),
		"ServerPort":     int32(12000),
		"ConnectMS":      int32(42),
		"Timeouts":       int32(0),
		"Errors":         int32(0),
	}

	raw, err := ConnectionStats.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := ConnectionStats.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}

	if string(decoded["ServerHostname"].([]byte)) != "login.us.wizard101.com" {
		t.Fatalf("hostname mismatch: %v", decoded["ServerHostname"])
	}
	if decoded["ServerPort"].(int32) != 12000 {
		t.Fatalf("port mismatch: %v", decoded["ServerPort"])
	}
}

func TestCharacterSelectedRoundTrip(t *testing.T) {
	msg := Message{
		"IP":          []byte("10.0.0.5"),
		"TCPPort":     int32(12000),
		"UDPPort":     int32(12001),
		"Key":         []byte("abcd"),
		"UserID":      uint64(1),
		"CharID":      uint64(2),
		"ZoneID":      uint64(3),
		"ZoneName":    []byte("WizardCity"),
		"Location":    []byte("Unknown"),
		"Slot":        int32(0),
		"PrepPhase":   int32(0),
		"Error":       int32(0),
		"LoginServer": []byte("login.us.wizard101.com"),
	}

	raw, err := CharacterSelected.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := CharacterSelected.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded["IP"].([]byte)) != "10.0.0.5" {
		t.Fatalf("ip mismatch: %v", decoded["IP"])
	}
	if decoded["UserID"].(uint64) != 1 {
		t.Fatalf("userid mismatch: %v", decoded["UserID"])
	}
}

func TestServerTransferRoundTrip(t *testing.T) {
	msg := Message{
		"IP":              []byte("10.0.0.5"),
		"TCPPort":         int32(12000),
		"UDPPort":         int32(12001),
		"Key":             int32(9),
		"UserID":          uint64(1),
		"CharID":          uint64(2),
		"ZoneName":        []byte("Unicorn Way"),
		"ZoneID":          uint64(4),
		"Location":        []byte("Loc"),
		"Slot":            int32(0),
		"SessionID":       uint64(5),
		"SessionSlot":     int32(0),
		"TargetPlayerID":  uint64(6),
		"FallbackIP":      []byte("127.0.0.1"),
		"FallbackTCPPort": int32(12002),
		"FallbackUDPPort": int32(12003),
		"FallbackKey":     int32(1),
		"FallbackZone":    []byte("FallbackZone"),
		"FallbackZoneID":  uint64(7),
		"TransitionID":    int32(8),
	}

	raw, err := ServerTransfer.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := ServerTransfer.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded["FallbackIP"].([]byte)) != "127.0.0.1" {
		t.Fatalf("fallback ip mismatch: %v", decoded["FallbackIP"])
	}
	if decoded["FallbackTCPPort"].(int32) != 12002 {
		t.Fatalf("fallback port mismatch: %v", decoded["FallbackTCPPort"])
	}
}

func TestEncodeMissingFieldError(t *testing.T) {
	if _, err := ConnectionStats.Encode(Message{}); err == nil {
		t.Fatalf("expected error for missing fields")
	}
}
