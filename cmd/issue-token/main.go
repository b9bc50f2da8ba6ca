package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/service"
	"golang.org/x/term"
)

func main() {
	var (
		userID       int
		expiry       time.Duration
		promptSecret bool
	)
	flag.IntVar(&userID, "user", 0, "Candidate user id")
	flag.DurationVar(&expiry, "expiry", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	flag.BoolVar(&promptSecret, "prompt-secret", false, "Read the signing secret from the terminal")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	reader := bufio.NewReader(os.Stdin)

	// ─── CLI Input ─────────────────────────────────────────────────────
	if userID == 0 && interactive {
		fmt.Print("Enter candidate user id: ")
		raw, _ := reader.ReadString('\n')
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			log.Fatal().Err(err).Msg("User id must be a number")
		}
		userID = n
	}

	secret := cfg.JWTSecret
	if promptSecret {
		if !interactive {
			log.Fatal().Msg("-prompt-secret needs a terminal")
		}
		fmt.Print("Enter JWT secret: ")
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read secret")
		}
		secret = string(b)
	}
	if expiry <= 0 {
		expiry = cfg.JWTExpiry
	}

	// ─── Issue ─────────────────────────────────────────────────────────
	token, err := service.NewAuthService(secret, expiry).IssueCandidateToken(userID)
	if err != nil {
		log.Fatal().Err(err).Int("user_id", userID).Msg("Failed to issue token")
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("Token for user %d (valid %s):\n", userID, expiry)
	}
	fmt.Println(token)
}
