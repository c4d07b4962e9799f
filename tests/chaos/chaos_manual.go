package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
)

// Fires concurrent first logins with distinct fingerprints at an unbound
// account on a running server. Exactly one must bind; the rest must see
// HWID_MISMATCH or BINDING_CONFLICT, never a 5xx.
func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	token := flag.String("token", "", "API token with read access to the category")
	category := flag.String("category", "vip", "category of the target account")
	username := flag.String("username", "", "unbound account to race on")
	password := flag.String("password", "", "account password")
	racers := flag.Int("n", 20, "concurrent logins")
	flag.Parse()

	if *token == "" || *username == "" {
		fmt.Println("usage: chaos_manual -token T -username U -password P [-category C] [-n N]")
		os.Exit(2)
	}

	fmt.Printf("Starting Chaos Test: %d concurrent first logins for %s/%s\n", *racers, *category, *username)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for i := 0; i < *racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := url.Values{
				"categories": {*category},
				"username":   {*username},
				"password":   {*password},
				"hwid":       {fmt.Sprintf("CHAOS-%02d", i)},
			}
			req, _ := http.NewRequest(http.MethodGet, *addr+"/v1/login?"+q.Encode(), nil)
			req.Header.Set("Authorization", "Bearer "+*token)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				fmt.Printf("request %d failed: %v\n", i, err)
				return
			}
			resp.Body.Close()

			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	fmt.Printf("Status counts: %v\n", statuses)

	failed := false
	if statuses[http.StatusOK] != 1 {
		fmt.Printf("FAIL: expected exactly one successful bind, got %d\n", statuses[http.StatusOK])
		failed = true
	}
	for code, n := range statuses {
		if code >= 500 {
			fmt.Printf("FAIL: %d responses with status %d\n", n, code)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("PASS: one winner, every other racer rejected cleanly")
}
