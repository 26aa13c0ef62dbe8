package members

import "testing"

const threeNodeDescriptor = "0,localhost:10001,localhost:10002,localhost:10003,localhost:10004,localhost:10004|" +
	"1,localhost:10101,localhost:10102,localhost:10103,localhost:10104,localhost:10104|" +
	"2,localhost:10201,localhost:10202,localhost:10203,localhost:10204,localhost:10204|"

func TestParse_ThreeNodeDescriptor(t *testing.T) {
	ms, err := Parse(threeNodeDescriptor)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ms) != 3 {
		t.Fatalf("members = %d, want 3", len(ms))
	}
	m, ok := Find(ms, 1)
	if !ok {
		t.Fatalf("member 1 not found")
	}
	if m.IngressEndpoint != "localhost:10101" || m.ConsensusEndpoint != "localhost:10102" {
		t.Fatalf("member 1 = %+v", m)
	}
	if m.CatchupEndpoint != "localhost:10104" || m.ArchiveEndpoint != "localhost:10104" {
		t.Fatalf("member 1 endpoints = %+v", m)
	}
}

func TestParse_Malformed(t *testing.T) {
	cases := []string{
		"",
		"0,a,b,c,d",                      // too few fields
		"x,a,b,c,d,e",                    // bad id
		"0,a,b,c,d,e|0,a,b,c,d,e",        // duplicate id
		"0,a,,c,d,e",                     // empty endpoint
	}
	for _, in := range cases {
		if _, err := Parse(in); err == nil {
			t.Fatalf("descriptor %q should fail to parse", in)
		}
	}
}
