// Command host connects to a device over TCP, UART or WebSocket and
// shows its identity, channels and statistics.
package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"omvp-toolkit/host"
	"omvp-toolkit/transport"
	"omvp-toolkit/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:4040", "device TCP address")
	serialPort := flag.String("serial", "", "serial device (overrides -addr)")
	baud := flag.Int("baud", 921600, "serial baud rate")
	wsURL := flag.String("ws", "", "device WebSocket URL (overrides -addr)")
	watch := flag.Bool("watch", false, "stream console output and events")
	flag.Parse()

	tr, err := connect(*addr, *serialPort, *baud, *wsURL)
	if err != nil {
		pterm.Error.Println("Connect failed:", err)
		return
	}

	camera := host.New(tr, host.Config{
		Timeout: time.Second,
		OnEvent: func(ch uint8, ev wire.Event, _ []byte) {
			pterm.Info.Printfln("Event: channel=%d code=%#x arg=%d", ch, ev.Code, ev.Arg)
		},
	})
	defer camera.Close()

	if err := camera.Sync(); err != nil {
		pterm.Error.Println("Sync failed:", err)
		return
	}
	pterm.Success.Println("Device synchronized")

	caps, err := camera.GetCaps()
	if err != nil {
		pterm.Error.Println("GetCaps failed:", err)
		return
	}
	pterm.Info.Printfln("Caps: crc=%t seq=%t ack=%t events=%t max_payload=%d",
		caps.CRC, caps.Seq, caps.ACK, caps.Events, caps.MaxPayload)

	info, err := camera.Info()
	if err != nil {
		pterm.Error.Println("Info failed:", err)
		return
	}
	printInfo(info)

	if err := printChannels(camera); err != nil {
		pterm.Error.Println("ListChannels failed:", err)
		return
	}
	if err := printStats(camera); err != nil {
		pterm.Error.Println("Stats failed:", err)
		return
	}

	if *watch {
		watchConsole(camera)
	}
}

func connect(addr, serialPort string, baud int, wsURL string) (transport.Transport, error) {
	switch {
	case serialPort != "":
		return transport.OpenSerial(serialPort, baud)
	case wsURL != "":
		return transport.DialWebSocket(wsURL)
	default:
		return transport.Dial(addr)
	}
}

func printInfo(info wire.SysInfo) {
	pterm.DefaultSection.Println("Device")
	pterm.Info.Printfln("CPU ID:    %#08x", info.CPUID)
	pterm.Info.Printfln("Device ID: %s", cString(info.DevID[:]))
	pterm.Info.Printfln("Chip ID:   %s", cString(info.ChipID[:]))
	pterm.Info.Printfln("Firmware:  %d.%d.%d  Protocol: %d.%d.%d",
		info.FirmwareVersion[0], info.FirmwareVersion[1], info.FirmwareVersion[2],
		info.ProtocolVersion[0], info.ProtocolVersion[1], info.ProtocolVersion[2])
	pterm.Info.Printfln("Memory: flash=%dK ram=%dK fb=%dK stream=%dK",
		info.FlashSizeKB, info.RAMSizeKB, info.FramebufferSizeKB, info.StreamBufferSizeKB)
}

func printChannels(camera *host.Camera) error {
	infos, err := camera.ListChannels()
	if err != nil {
		return err
	}
	bitmap, err := camera.Poll()
	if err != nil {
		return err
	}
	pterm.DefaultSection.Println("Channels")
	data := pterm.TableData{{"ID", "Name", "Flags", "Ready"}}
	for _, info := range infos {
		ready := ""
		if bitmap&(1<<info.ID) != 0 {
			ready = "yes"
		}
		data = append(data, []string{
			fmt.Sprintf("%d", info.ID),
			info.Name,
			chanFlags(info.Flags),
			ready,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printStats(camera *host.Camera) error {
	stats, err := camera.Stats()
	if err != nil {
		return err
	}
	pterm.DefaultSection.Println("Statistics")
	data := pterm.TableData{
		{"Counter", "Value"},
		{"tx_frames", fmt.Sprintf("%d", stats.TxFrames)},
		{"rx_frames", fmt.Sprintf("%d", stats.RxFrames)},
		{"tx_bytes", fmt.Sprintf("%d", stats.TxBytes)},
		{"rx_bytes", fmt.Sprintf("%d", stats.RxBytes)},
		{"checksum_errors", fmt.Sprintf("%d", stats.ChecksumErrors)},
		{"sequence_errors", fmt.Sprintf("%d", stats.SequenceErrors)},
		{"transport_errors", fmt.Sprintf("%d", stats.TransportErrors)},
		{"max_ack_queue", fmt.Sprintf("%d", stats.MaxAckQueueDepth)},
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// watchConsole tails the console channel (id 2 by convention) and
// pumps events between polls.
func watchConsole(camera *host.Camera) {
	pterm.DefaultSection.Println("Console")
	for {
		data, err := camera.Read(2, 0, 1024)
		if err != nil {
			var serr *wire.StatusError
			if errors.As(err, &serr) && serr.Status == wire.StatusBusy {
				camera.PumpEvents(200 * time.Millisecond)
				continue
			}
			pterm.Error.Println("Console read failed:", err)
			return
		}
		fmt.Print(string(data))
	}
}

func chanFlags(flags uint8) string {
	var parts []string
	if flags&wire.ChanRead != 0 {
		parts = append(parts, "R")
	}
	if flags&wire.ChanWrite != 0 {
		parts = append(parts, "W")
	}
	if flags&wire.ChanLock != 0 {
		parts = append(parts, "L")
	}
	if flags&wire.ChanDynamic != 0 {
		parts = append(parts, "D")
	}
	if flags&wire.ChanPhysical != 0 {
		parts = append(parts, "P")
	}
	return strings.Join(parts, "")
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
