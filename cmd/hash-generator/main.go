// Command hash-generator prints the bcrypt hash of an admin password, for use
// as TASKPUMP_AUTH_ADMIN_PASSWORD_HASH.
//
// The password is read from the first argument, or from the first line of
// stdin when no argument is given.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/phrazzld/taskpump/internal/service/auth"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	flag.Parse()

	password, err := readPassword(flag.Args(), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func readPassword(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
