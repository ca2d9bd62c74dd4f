package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediaremote/config"
	"mediaremote/device"
	"mediaremote/discovery"
	"mediaremote/models"
	"mediaremote/storage"
)

func main() {
	var (
		scanOnly = flag.Bool("scan", false, "scan for devices and exit")
		key      = flag.String("key", "", "key command to send after connecting (e.g. Menu, Play)")
		watch    = flag.Bool("watch", false, "subscribe to now-playing updates and print them")
		timeout  = flag.Duration("timeout", 10*time.Second, "per-operation timeout")
	)
	flag.Parse()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	ctx := context.Background()
	records, err := discovery.Scan(ctx, discovery.Config{})
	if err != nil {
		log.Fatalf("discovery failed: %v", err)
	}
	if len(records) == 0 {
		log.Fatal("no MediaRemote devices found")
	}

	if *scanOnly {
		for _, record := range records {
			fmt.Printf("%-30s %s:%d  id=%s\n", record.DisplayName(), record.Address(), record.Port, record.UniqueIdentifier())
		}
		return
	}

	record := records[0]
	fmt.Printf("Device:     %s (%s:%d)\n", record.DisplayName(), record.Address(), record.Port)
	fmt.Printf("Client ID:  %s\n", cfg.PairingID)

	store, _, err := storage.Open(filepath.Dir(cfgPath))
	if err != nil {
		log.Fatalf("startup failed while opening device store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("device store close error: %v", err)
		}
	}()

	dev := device.New(record.Address().String(), record.Port, device.Options{
		PairingID: cfg.PairingID,
		Name:      cfg.Name,
	})
	defer func() { _ = dev.Close() }()

	opCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	if err := dev.Connect(opCtx); err != nil {
		log.Fatalf("connect failed: %v", err)
	}

	creds, err := store.Credentials(record.UniqueIdentifier())
	if err != nil {
		creds, err = pairWithPIN(ctx, dev, *timeout)
		if err != nil {
			log.Fatalf("pairing failed: %v", err)
		}
		if err := store.SaveDevice(record.UniqueIdentifier(), record.DisplayName(), creds); err != nil {
			log.Fatalf("saving credentials failed: %v", err)
		}
		fmt.Println("Pairing complete; credentials stored.")
	}

	verifyCtx, cancelVerify := context.WithTimeout(ctx, *timeout)
	defer cancelVerify()
	if err := dev.Verify(verifyCtx, creds); err != nil {
		log.Fatalf("session verification failed: %v", err)
	}
	_ = store.TouchLastConnected(record.UniqueIdentifier())
	fmt.Println("Session established.")

	if *key != "" {
		keyCtx, cancelKey := context.WithTimeout(ctx, *timeout)
		defer cancelKey()
		if err := dev.SendKeyCommandNamed(keyCtx, *key); err != nil {
			log.Fatalf("key command failed: %v", err)
		}
		fmt.Printf("Sent key %s.\n", *key)
	}

	if *watch {
		unsubscribe := dev.On(device.EventNowPlaying, func(e device.Event) {
			info, _ := e.Data.(*models.NowPlayingInfo)
			if info == nil {
				fmt.Println("Nothing playing.")
				return
			}
			fmt.Printf("Now playing: %s - %s (%.0f/%.0f s)\n", info.Artist, info.Title, info.ElapsedTime, info.Duration)
		})
		defer unsubscribe()

		fmt.Println("Watching now-playing updates; press Enter to quit.")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	}
}

func pairWithPIN(ctx context.Context, dev *device.Device, timeout time.Duration) (models.Credentials, error) {
	pairCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	setup, err := dev.Pair(pairCtx)
	if err != nil {
		return models.Credentials{}, err
	}

	fmt.Print("Enter the PIN shown on the device: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return models.Credentials{}, fmt.Errorf("read PIN: %w", err)
	}

	pinCtx, cancelPIN := context.WithTimeout(ctx, timeout)
	defer cancelPIN()
	return setup.EnterPIN(pinCtx, strings.TrimSpace(line))
}
