package simulator

import (
	"math/rand"
	"testing"
	"time"
)

func TestGenerateFleetCount(t *testing.T) {
	fleetRng = rand.New(rand.NewSource(1))
	rs := GenerateFleet(Config{FleetSize: 5, SkillSets: []string{"medical"}})
	if len(rs) != 5 {
		t.Fatalf("expected 5 responders, got %d", len(rs))
	}
	if rs[0].ID != "resp0001" || rs[4].ID != "resp0005" {
		t.Fatalf("unexpected ids %s %s", rs[0].ID, rs[4].ID)
	}
}

func TestGenerateFleetSkillRotation(t *testing.T) {
	fleetRng = rand.New(rand.NewSource(1))
	rs := GenerateFleet(Config{FleetSize: 4, SkillSets: []string{"medical+driving", "rescue"}})
	counts := map[string]int{}
	for _, r := range rs {
		for _, s := range r.Skills {
			counts[s]++
		}
	}
	if counts["medical"] != 2 || counts["driving"] != 2 || counts["rescue"] != 2 {
		t.Fatalf("skills not rotated evenly: %v", counts)
	}
}

func TestGenerateFleetEmpty(t *testing.T) {
	if rs := GenerateFleet(Config{FleetSize: 3}); rs != nil {
		t.Fatalf("expected no responders without skill sets, got %d", len(rs))
	}
}

func TestLoadAvailability(t *testing.T) {
	prof, err := LoadAvailabilityProfile([]byte(`{"0":0.1,"1":0.2,"2":0.3,"x":1,"30":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if prof[2] != 0.3 || prof[3] != 0 {
		t.Fatalf("unexpected profile %v", prof)
	}
}

func TestLoadAvailabilityError(t *testing.T) {
	if _, err := LoadAvailabilityProfile([]byte(`invalid`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Config{Broker: "tcp://localhost:1883", APIURL: "http://localhost:8080"}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Availability[12] != 1 || cfg.Interval != 30*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	bad := cfg
	bad.DropRate = 2
	if err := bad.Validate(); err == nil {
		t.Fatal("expected drop rate error")
	}
	bad = cfg
	bad.Availability[3] = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected availability error")
	}
	if err := (Config{APIURL: "x"}).Validate(); err == nil {
		t.Fatal("expected broker error")
	}
}
