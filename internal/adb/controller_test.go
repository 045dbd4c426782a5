package adb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fakeRunner records invocations and returns canned results keyed by a
// substring of the joined argument list.
type fakeRunner struct {
	calls   [][]string
	results map[string]Result
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: make(map[string]Result),
		errs:    make(map[string]error),
	}
}

func (f *fakeRunner) Run(_ context.Context, args ...string) (Result, error) {
	f.calls = append(f.calls, args)
	joined := strings.Join(args, " ")

	for key, err := range f.errs {
		if strings.Contains(joined, key) {
			return Result{}, err
		}
	}
	for key, res := range f.results {
		if strings.Contains(joined, key) {
			return res, nil
		}
	}
	return Result{Success: true}, nil
}

func (f *fakeRunner) lastCall() string {
	if len(f.calls) == 0 {
		return ""
	}
	return strings.Join(f.calls[len(f.calls)-1], " ")
}

func TestParseDeviceList(t *testing.T) {
	output := `List of devices attached
R58M12ABCDE            device usb:1-4 product:a30 model:SM_A305F device:a30
0123456789ABCDEF       unauthorized usb:1-5
emulator-5554          offline
`

	listings := parseDeviceList(output)

	if len(listings) != 3 {
		t.Fatalf("parseDeviceList() returned %d listings, want 3", len(listings))
	}

	want := []Listing{
		{ID: "R58M12ABCDE", State: "device", Model: "SM_A305F"},
		{ID: "0123456789ABCDEF", State: "unauthorized"},
		{ID: "emulator-5554", State: "offline"},
	}

	for i, w := range want {
		if listings[i] != w {
			t.Errorf("listings[%d] = %+v, want %+v", i, listings[i], w)
		}
	}
}

func TestParseDeviceList_Empty(t *testing.T) {
	listings := parseDeviceList("List of devices attached\n")
	if len(listings) != 0 {
		t.Errorf("parseDeviceList() returned %d listings, want 0", len(listings))
	}
}

func TestListDevices(t *testing.T) {
	runner := newFakeRunner()
	runner.results["devices -l"] = Result{
		Success: true,
		Output:  "List of devices attached\nR58M12ABCDE device model:SM_A305F",
	}

	ctrl := NewController(runner)
	listings, err := ctrl.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}

	if len(listings) != 1 || listings[0].ID != "R58M12ABCDE" {
		t.Errorf("ListDevices() = %+v, want one listing for R58M12ABCDE", listings)
	}
}

func TestListDevices_ChannelUnavailable(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["devices"] = fmt.Errorf("%w: exec: adb not found", ErrChannelUnavailable)

	ctrl := NewController(runner)
	_, err := ctrl.ListDevices(context.Background())
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("ListDevices() error = %v, want ErrChannelUnavailable", err)
	}
}

func TestRunStep_Shell(t *testing.T) {
	runner := newFakeRunner()
	ctrl := NewController(runner)

	res := ctrl.RunStep(context.Background(), "dev-1", ShellStep{Command: "input keyevent 26"})
	if !res.Success {
		t.Errorf("RunStep() success = false, want true")
	}

	want := "-s dev-1 shell input keyevent 26"
	if got := runner.lastCall(); got != want {
		t.Errorf("adb invocation = %q, want %q", got, want)
	}
}

func TestRunStep_Broadcast(t *testing.T) {
	runner := newFakeRunner()
	ctrl := NewController(runner)

	step := BroadcastStep{
		Action:  "com.example.trafficsim.PAUSE_SIMULATION",
		Package: "com.example.trafficsim",
	}
	ctrl.RunStep(context.Background(), "dev-1", step)

	want := "-s dev-1 shell am broadcast -a com.example.trafficsim.PAUSE_SIMULATION -p com.example.trafficsim"
	if got := runner.lastCall(); got != want {
		t.Errorf("adb invocation = %q, want %q", got, want)
	}
}

func TestBroadcastStep_ExtrasSorted(t *testing.T) {
	step := BroadcastStep{
		Action: "ACTION",
		Extras: map[string]string{"zeta": "2", "alpha": "1"},
	}

	got := step.shellCommand()
	want := `am broadcast -a ACTION --es alpha "1" --es zeta "2"`
	if got != want {
		t.Errorf("shellCommand() = %q, want %q", got, want)
	}
}

func TestPrefStep_ShellCommand(t *testing.T) {
	tests := []struct {
		name string
		step PrefStep
		want string
	}{
		{
			name: "boolean entry",
			step: PrefStep{
				Package: "com.example.trafficsim",
				File:    "simulation_prefs",
				Key:     "rotate_ip",
				Value:   "true",
				Type:    "boolean",
			},
			want: `run-as com.example.trafficsim sed -i 's|name="rotate_ip" value="[^"]*"|name="rotate_ip" value="true"|' /data/data/com.example.trafficsim/shared_prefs/simulation_prefs.xml`,
		},
		{
			name: "string entry",
			step: PrefStep{
				Package: "com.example.trafficsim",
				File:    "simulation_prefs",
				Key:     "target_url",
				Value:   "https://example.com",
				Type:    "string",
			},
			want: `run-as com.example.trafficsim sed -i 's|<string name="target_url">[^<]*</string>|<string name="target_url">https://example.com</string>|' /data/data/com.example.trafficsim/shared_prefs/simulation_prefs.xml`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.step.shellCommand(); got != tt.want {
				t.Errorf("shellCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunStep_ChannelErrorFoldedIntoResult(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["shell"] = fmt.Errorf("%w: server unreachable", ErrChannelUnavailable)

	ctrl := NewController(runner)
	res := ctrl.RunStep(context.Background(), "dev-1", ShellStep{Command: "true"})

	if res.Success {
		t.Error("RunStep() success = true, want false on channel error")
	}
	if res.Err == "" {
		t.Error("RunStep() result has empty error description")
	}
}

func TestForceStop(t *testing.T) {
	runner := newFakeRunner()
	ctrl := NewController(runner)

	ctrl.ForceStop(context.Background(), "dev-1", "com.example.trafficsim")

	want := "-s dev-1 shell am force-stop com.example.trafficsim"
	if got := runner.lastCall(); got != want {
		t.Errorf("adb invocation = %q, want %q", got, want)
	}
}

func TestLaunchApp(t *testing.T) {
	runner := newFakeRunner()
	ctrl := NewController(runner)

	ctrl.LaunchApp(context.Background(), "dev-1", "com.example.trafficsim", ".presentation.MainActivity")

	want := "-s dev-1 shell am start -n com.example.trafficsim/.presentation.MainActivity"
	if got := runner.lastCall(); got != want {
		t.Errorf("adb invocation = %q, want %q", got, want)
	}
}

func TestAppPID(t *testing.T) {
	runner := newFakeRunner()
	runner.results["pidof"] = Result{Success: true, Output: "12345"}

	ctrl := NewController(runner)
	pid, err := ctrl.AppPID(context.Background(), "dev-1", "com.example.trafficsim")
	if err != nil {
		t.Fatalf("AppPID() error = %v", err)
	}
	if pid != 12345 {
		t.Errorf("AppPID() = %d, want 12345", pid)
	}
}

func TestAppPID_NotRunning(t *testing.T) {
	runner := newFakeRunner()
	runner.results["pidof"] = Result{Success: false, Err: "exit status 1"}

	ctrl := NewController(runner)
	_, err := ctrl.AppPID(context.Background(), "dev-1", "com.example.trafficsim")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("AppPID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestBatteryLevel(t *testing.T) {
	runner := newFakeRunner()
	runner.results["dumpsys battery"] = Result{
		Success: true,
		Output:  "Current Battery Service state:\n  AC powered: false\n  level: 87\n  scale: 100",
	}

	ctrl := NewController(runner)
	level, err := ctrl.BatteryLevel(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("BatteryLevel() error = %v", err)
	}
	if level != 87 {
		t.Errorf("BatteryLevel() = %d, want 87", level)
	}
}

func TestBatteryLevel_ParseFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.results["dumpsys battery"] = Result{Success: true, Output: "no level here"}

	ctrl := NewController(runner)
	_, err := ctrl.BatteryLevel(context.Background(), "dev-1")
	if !errors.Is(err, ErrParseFailed) {
		t.Errorf("BatteryLevel() error = %v, want ErrParseFailed", err)
	}
}

func TestDeviceProperties(t *testing.T) {
	runner := newFakeRunner()
	runner.results["getprop"] = Result{
		Success: true,
		Output:  "[ro.product.model]: [SM_A305F]\n[ro.build.version.release]: [11]",
	}

	ctrl := NewController(runner)
	props, err := ctrl.DeviceProperties(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("DeviceProperties() error = %v", err)
	}

	if props["ro.product.model"] != "SM_A305F" {
		t.Errorf("ro.product.model = %q, want SM_A305F", props["ro.product.model"])
	}
	if props["ro.build.version.release"] != "11" {
		t.Errorf("ro.build.version.release = %q, want 11", props["ro.build.version.release"])
	}
}

func TestResult_ToMap(t *testing.T) {
	res := Result{Success: false, Output: "out", Err: "boom"}
	m := res.ToMap()

	if m["success"] != false {
		t.Errorf("ToMap()[success] = %v, want false", m["success"])
	}
	if m["output"] != "out" {
		t.Errorf("ToMap()[output] = %v, want out", m["output"])
	}
	if m["error"] != "boom" {
		t.Errorf("ToMap()[error] = %v, want boom", m["error"])
	}

	empty := Result{Success: true}.ToMap()
	if _, ok := empty["output"]; ok {
		t.Error("ToMap() should omit empty output")
	}
}
