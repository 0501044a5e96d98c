package admin

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

// Console is the interactive operator menu: 1 lists entries, 2 removes one, 3 stops the server.
type Console struct {
	admin Admin
	in    *bufio.Scanner
	out   io.Writer
}

func NewConsole(a Admin, in io.Reader, out io.Writer) *Console {
	return &Console{
		admin: a,
		in:    bufio.NewScanner(in),
		out:   out,
	}
}

// Run prompts for commands until the stop command is given or the input ends.
// It returns the error of RequestShutdown or of reading the input.
func (c *Console) Run() error {
	for {
		c.printMenu()
		choice, ok := c.readLine()
		if !ok {
			return c.in.Err()
		}

		switch choice {
		case "1":
			c.listEntries()
		case "2":
			fmt.Fprint(c.out, "Enter the key to remove: ")
			key, ok := c.readLine()
			if !ok {
				return c.in.Err()
			}
			c.removeEntry(key)
		case "3":
			if err := c.admin.RequestShutdown(); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Server stopped.")
			return nil
		default:
			fmt.Fprintln(c.out, "Invalid choice. Please try again.")
		}
	}
}

func (c *Console) printMenu() {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Choose an action:")
	fmt.Fprintln(c.out, "1. List cached pages")
	fmt.Fprintln(c.out, "2. Remove a cache entry")
	fmt.Fprintln(c.out, "3. Stop the server")
	fmt.Fprint(c.out, "Your choice: ")
}

func (c *Console) readLine() (string, bool) {
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *Console) listEntries() {
	listings := c.admin.ListEntries()
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Cached pages:")
	if len(listings) == 0 {
		fmt.Fprintln(c.out, "No pages in cache.")
		return
	}
	for _, l := range listings {
		fmt.Fprintf(c.out, "Key: %s (Expires in: %d seconds)\n", l.Key, int64(l.Remaining/time.Second))
	}
}

func (c *Console) removeEntry(key string) {
	if c.admin.RemoveEntry(key) {
		fmt.Fprintf(c.out, "Cache entry removed: %s\n", key)
	} else {
		fmt.Fprintf(c.out, "No cache entry found for key: %s\n", key)
	}
}
