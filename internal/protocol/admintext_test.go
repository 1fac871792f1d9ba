package protocol

import "testing"

func TestParseStatusLine(t *testing.T) {
	row, err := ParseStatusLine("task1\t3\t2\t4")
	if err != nil {
		t.Fatalf("ParseStatusLine: %v", err)
	}
	want := StatusRow{Task: "task1", Queued: 3, Running: 2, Workers: 4}
	if row != want {
		t.Fatalf("got %+v, want %+v", row, want)
	}
}

func TestParseStatusLineMalformed(t *testing.T) {
	if _, err := ParseStatusLine("task1\t3\t2"); err == nil {
		t.Fatal("expected error for short line")
	}
	if _, err := ParseStatusLine("task1\tx\t2\t4"); err == nil {
		t.Fatal("expected error for non-numeric field")
	}
}

func TestParseWorkersLine(t *testing.T) {
	row, err := ParseWorkersLine("3 127.0.0.1 client1 : reverse upper")
	if err != nil {
		t.Fatalf("ParseWorkersLine: %v", err)
	}
	if row.FD != "3" || row.IP != "127.0.0.1" || row.ClientID != "client1" {
		t.Fatalf("got %+v", row)
	}
	if len(row.Tasks) != 2 || row.Tasks[0] != "reverse" || row.Tasks[1] != "upper" {
		t.Fatalf("tasks = %v", row.Tasks)
	}
}

func TestParseWorkersLineNoTasks(t *testing.T) {
	row, err := ParseWorkersLine("3 127.0.0.1 client1 : ")
	if err != nil {
		t.Fatalf("ParseWorkersLine: %v", err)
	}
	if len(row.Tasks) != 0 {
		t.Fatalf("tasks = %v, want empty", row.Tasks)
	}
}

func TestSplitLines(t *testing.T) {
	lines, consumed := SplitLines([]byte("status\nversion\npartial"))
	if len(lines) != 2 || lines[0] != "status" || lines[1] != "version" {
		t.Fatalf("lines = %v", lines)
	}
	if consumed != len("status\nversion\n") {
		t.Fatalf("consumed = %d, want %d", consumed, len("status\nversion\n"))
	}
}

func TestEncodeTextCommand(t *testing.T) {
	got := EncodeTextCommand(TextMaxQueue, "reverse", "100")
	want := "maxqueue reverse 100\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
