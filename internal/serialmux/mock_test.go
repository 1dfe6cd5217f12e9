package serialmux

import (
	"errors"
	"io"
	"testing"
	"time"
)

func TestTestableSerialPort_ReadWrite(t *testing.T) {
	port := NewTestableSerialPort()

	// Add data to read buffer
	testData := []byte("test data")
	port.AddReadData(testData)

	// Read data
	buf := make([]byte, 100)
	n, err := port.Read(buf)
	if err != nil {
		t.Errorf("Read returned error: %v", err)
	}
	if string(buf[:n]) != string(testData) {
		t.Errorf("Read returned %q, expected %q", string(buf[:n]), string(testData))
	}
	if port.ReadCalls != 1 {
		t.Errorf("Expected 1 read call, got %d", port.ReadCalls)
	}

	// Write data
	writeData := []byte("write data")
	n, err = port.Write(writeData)
	if err != nil {
		t.Errorf("Write returned error: %v", err)
	}
	if n != len(writeData) {
		t.Errorf("Write returned %d, expected %d", n, len(writeData))
	}
	if port.WriteCalls != 1 {
		t.Errorf("Expected 1 write call, got %d", port.WriteCalls)
	}

	// Verify written data
	if string(port.GetWrittenData()) != string(writeData) {
		t.Errorf("Written data = %q, expected %q", string(port.GetWrittenData()), string(writeData))
	}
}

func TestTestableSerialPort_Errors(t *testing.T) {
	port := NewTestableSerialPort()

	// Test read error
	port.ReadError = errors.New("read error")
	_, err := port.Read(make([]byte, 10))
	if err == nil || err.Error() != "read error" {
		t.Errorf("Expected 'read error', got: %v", err)
	}
	// Error should be cleared
	port.AddReadData([]byte("x"))
	_, err = port.Read(make([]byte, 10))
	if err != nil {
		t.Errorf("Expected no error after error cleared, got: %v", err)
	}

	// Test write error
	port.WriteError = errors.New("write error")
	_, err = port.Write([]byte("test"))
	if err == nil || err.Error() != "write error" {
		t.Errorf("Expected 'write error', got: %v", err)
	}

	// Test close error
	port.CloseError = errors.New("close error")
	err = port.Close()
	if err == nil || err.Error() != "close error" {
		t.Errorf("Expected 'close error', got: %v", err)
	}
}

func TestTestableSerialPort_Closed(t *testing.T) {
	port := NewTestableSerialPort()

	// Close the port
	port.Close()

	if !port.Closed {
		t.Error("Expected port to be closed")
	}

	// Read should fail
	_, err := port.Read(make([]byte, 10))
	if err == nil {
		t.Error("Expected error reading from closed port")
	}

	// Write should fail
	_, err = port.Write([]byte("test"))
	if err == nil {
		t.Error("Expected error writing to closed port")
	}
}

func TestTestableSerialPort_Latency(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadLatency = 50 * time.Millisecond
	port.WriteLatency = 50 * time.Millisecond

	port.AddReadData([]byte("test"))

	// Measure read time
	start := time.Now()
	port.Read(make([]byte, 10))
	readDuration := time.Since(start)
	if readDuration < 40*time.Millisecond {
		t.Errorf("Read was too fast: %v", readDuration)
	}

	// Measure write time
	start = time.Now()
	port.Write([]byte("test"))
	writeDuration := time.Since(start)
	if writeDuration < 40*time.Millisecond {
		t.Errorf("Write was too fast: %v", writeDuration)
	}
}

func TestTestableSerialPort_Reset(t *testing.T) {
	port := NewTestableSerialPort()

	// Set up state
	port.AddReadData([]byte("test"))
	port.Write([]byte("write"))
	port.ReadError = errors.New("error")
	port.WriteError = errors.New("error")
	port.ReadLatency = time.Second
	port.Close()

	// Reset
	port.Reset()

	// Verify reset state
	if port.ReadCalls != 0 {
		t.Errorf("Expected ReadCalls 0, got %d", port.ReadCalls)
	}
	if port.WriteCalls != 0 {
		t.Errorf("Expected WriteCalls 0, got %d", port.WriteCalls)
	}
	if port.Closed {
		t.Error("Expected port not closed")
	}
	if port.ReadError != nil || port.WriteError != nil {
		t.Error("Expected errors to be nil")
	}
	if port.ReadLatency != 0 {
		t.Error("Expected latency to be 0")
	}
	if port.ReadBuffer.Len() != 0 {
		t.Error("Expected ReadBuffer to be empty")
	}
	if port.WriteBuffer.Len() != 0 {
		t.Error("Expected WriteBuffer to be empty")
	}
}

func TestMockSerialPortFactory(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)

	mode := &SerialPortMode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   NoParity,
		StopBits: OneStopBit,
	}

	result, err := factory.Open("/dev/ttyUSB0", mode)
	if err != nil {
		t.Errorf("Open returned error: %v", err)
	}
	if result != port {
		t.Error("Expected returned port to match configured port")
	}

	// Verify call was recorded
	if len(factory.OpenCalls) != 1 {
		t.Fatalf("Expected 1 open call, got %d", len(factory.OpenCalls))
	}
	if factory.OpenCalls[0].Path != "/dev/ttyUSB0" {
		t.Errorf("Expected path '/dev/ttyUSB0', got '%s'", factory.OpenCalls[0].Path)
	}
	if factory.OpenCalls[0].Mode.BaudRate != 9600 {
		t.Errorf("Expected baud rate 9600, got %d", factory.OpenCalls[0].Mode.BaudRate)
	}
}

func TestMockSerialPortFactory_Error(t *testing.T) {
	factory := NewMockSerialPortFactory(nil)
	factory.Error = errors.New("open error")

	_, err := factory.Open("/dev/ttyUSB0", nil)
	if err == nil || err.Error() != "open error" {
		t.Errorf("Expected 'open error', got: %v", err)
	}
}

func TestMockSerialPortFactory_LastCall(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)

	// No calls yet
	if factory.LastCall() != nil {
		t.Error("Expected nil when no calls")
	}

	factory.Open("/dev/tty1", nil)
	factory.Open("/dev/tty2", nil)

	last := factory.LastCall()
	if last == nil {
		t.Fatal("Expected non-nil last call")
	}
	if last.Path != "/dev/tty2" {
		t.Errorf("Expected '/dev/tty2', got '%s'", last.Path)
	}
}

func TestMockSerialPortFactory_Reset(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)
	factory.Open("/dev/tty1", nil)
	factory.Error = errors.New("error")

	factory.Reset()

	if len(factory.OpenCalls) != 0 {
		t.Errorf("Expected 0 calls after reset, got %d", len(factory.OpenCalls))
	}
	if factory.Error != nil {
		t.Error("Expected nil error after reset")
	}
}

func TestDefaultSerialPortMode(t *testing.T) {
	mode := DefaultSerialPortMode()

	if mode.BaudRate != 9600 {
		t.Errorf("Expected baud rate 9600, got %d", mode.BaudRate)
	}
	if mode.DataBits != 8 {
		t.Errorf("Expected data bits 8, got %d", mode.DataBits)
	}
	if mode.Parity != NoParity {
		t.Errorf("Expected NoParity, got %v", mode.Parity)
	}
	if mode.StopBits != OneStopBit {
		t.Errorf("Expected OneStopBit, got %v", mode.StopBits)
	}
}

func TestSimCameraPort_Protocol(t *testing.T) {
	port := NewSimCameraPort(map[string]string{"gain": "1"})

	if _, err := port.Write([]byte("get gain\nset gain")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	// The second command is incomplete until its newline arrives.
	if _, err := port.Write([]byte(" 3\n\nget gain\n")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	buf := make([]byte, 64)
	n, err := port.Read(buf)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if got, want := string(buf[:n]), "gain=1\nOK\ngain=3\n"; got != want {
		t.Errorf("replies = %q, want %q", got, want)
	}
	if got := port.Commands(); len(got) != 3 || got[1] != "set gain 3" {
		t.Errorf("Commands() = %q", got)
	}
	if port.Value("gain") != "3" {
		t.Errorf("gain = %q, want 3", port.Value("gain"))
	}
}

func TestSimCameraPort_CloseUnblocksRead(t *testing.T) {
	port := NewSimCameraPort(nil)
	done := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 8))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	port.Close()

	select {
	case err := <-done:
		if err != io.EOF {
			t.Errorf("Read after close = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock on Close")
	}
	if _, err := port.Write([]byte("get gain\n")); err == nil {
		t.Error("Write after close should fail")
	}
}

func TestOpenSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)

	mux, err := OpenSerialMux(factory, "/dev/ttyCL0", PortOptions{BaudRate: 115200, Parity: "E"})
	if err != nil {
		t.Fatalf("OpenSerialMux returned error: %v", err)
	}
	call := factory.LastCall()
	if call == nil || call.Path != "/dev/ttyCL0" {
		t.Fatalf("LastCall() = %+v", call)
	}
	if call.Mode.BaudRate != 115200 || call.Mode.Parity != EvenParity {
		t.Errorf("mode = %+v", call.Mode)
	}
	if err := mux.SendCommand("get model"); err != nil {
		t.Fatalf("SendCommand returned error: %v", err)
	}
	if string(port.GetWrittenData()) != "get model\n" {
		t.Errorf("written = %q", port.GetWrittenData())
	}

	if _, err := OpenSerialMux(factory, "/dev/ttyCL0", PortOptions{DataBits: 12}); err == nil {
		t.Error("expected invalid options to fail before opening")
	}
	factory.Error = errors.New("busy")
	if _, err := OpenSerialMux(factory, "/dev/ttyCL1", PortOptions{}); err == nil || !errors.Is(err, factory.Error) {
		t.Errorf("OpenSerialMux error = %v, want wrapped busy", err)
	}
}

func TestSerialPortOpener(t *testing.T) {
	var gotPath string
	opener := SerialPortOpener(func(path string, mode *SerialPortMode) (SerialPorter, error) {
		gotPath = path
		return NewTestableSerialPort(), nil
	})
	if _, err := OpenSerialMux(opener, "/dev/ttyS3", PortOptions{}); err != nil {
		t.Fatalf("OpenSerialMux returned error: %v", err)
	}
	if gotPath != "/dev/ttyS3" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestRealSerialPortFactory_InvalidPath(t *testing.T) {
	if _, err := NewRealSerialMux("/nonexistent/ttyCL9", PortOptions{}); err == nil {
		t.Error("expected error opening a missing device")
	}
}
