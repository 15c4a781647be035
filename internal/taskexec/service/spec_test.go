package service_test

import (
	"testing"

	"github.com/majorhost/taskexec/internal/taskexec/runtime"
	"github.com/majorhost/taskexec/internal/taskexec/service"
)

func validSpec() service.Spec {
	return service.Spec{
		Name:        "postfix",
		Kind:        service.KindMailRelay,
		Image:       "registry.example.com/postfix:latest",
		NetworkMode: "host",
		Mounts: []runtime.Mount{
			{Kind: runtime.MountBind, Source: "/opt/postfix/conf", Target: "/etc/postfix", ReadOnly: true},
			{Kind: runtime.MountTmpfs, Target: "/var/spool/postfix/tmp"},
		},
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*service.Spec)
		wantErr bool
	}{
		{"valid", func(s *service.Spec) {}, false},
		{"missing name", func(s *service.Spec) { s.Name = "" }, true},
		{"missing image", func(s *service.Spec) { s.Image = "" }, true},
		{"bind without source", func(s *service.Spec) { s.Mounts[0].Source = "" }, true},
		{"tmpfs with source", func(s *service.Spec) { s.Mounts[1].Source = "/tmp" }, true},
		{"duplicate target", func(s *service.Spec) { s.Mounts[1].Target = s.Mounts[0].Target }, true},
		{"missing target", func(s *service.Spec) { s.Mounts[0].Target = "" }, true},
		{"unknown mount kind", func(s *service.Spec) { s.Mounts[0].Kind = "volume" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			err := spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunHints_RoundTrip(t *testing.T) {
	spec := validSpec()
	encoded, err := service.HintsFor(spec).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	hints, err := service.ParseRunHints(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !hints.Equal(service.HintsFor(spec)) {
		t.Fatalf("round trip diverged: %+v", hints)
	}
	if hints.Version != service.RunHintsVersion {
		t.Fatalf("expected version %d, got %d", service.RunHintsVersion, hints.Version)
	}
}

func TestParseRunHints_RejectsUnknownVersion(t *testing.T) {
	if _, err := service.ParseRunHints(`{"version":99,"name":"x","image":"y"}`); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestParseRunHints_RejectsGarbage(t *testing.T) {
	if _, err := service.ParseRunHints("not json"); err == nil {
		t.Fatal("expected error for malformed hints")
	}
}

func TestDefinedCommands(t *testing.T) {
	cmds := service.DefinedCommands(map[string]string{
		service.ExecLabelPrefix + "reload-cmd": "nginx -s reload",
		service.ExecLabelPrefix + "backup-cmd": "restic backup ${dir}",
		"unrelated.label":                      "ignored",
	})
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d: %v", len(cmds), cmds)
	}
	if cmds["reload-cmd"] != "nginx -s reload" {
		t.Fatalf("unexpected reload-cmd: %q", cmds["reload-cmd"])
	}
}
