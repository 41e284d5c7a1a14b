package main

import (
	"testing"
)

func TestBuildPayload(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "simple", args: []string{"name=Jane", "msg=Hello World"}, want: "name=Jane&msg=Hello+World"},
		{name: "escapes", args: []string{"email=a@b.com", "x=1+1"}, want: "email=a%40b.com&x=1%2B1"},
		{name: "empty value", args: []string{"a="}, want: "a="},
		{name: "value with equals", args: []string{"q=a=b"}, want: "q=a%3Db"},
		{name: "no args", wantErr: true},
		{name: "missing equals", args: []string{"name"}, wantErr: true},
		{name: "empty key", args: []string{"=x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildPayload(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got payload %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
