package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果与拒绝原因，便于聚合统计。
type Result struct {
	Status int
	Reason string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	voucherID := flag.Int64("voucher", 1, "voucher id")
	stockCheck := flag.Bool("stock", true, "check mirror stock after test")

	// 超卖测试参数：N 个不同用户并发抢同一张券
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	// 1) 不超卖测试：不同 user 并发
	fmt.Printf("start oversell test: voucher=%d users=%d concurrency=%d\n", *voucherID, *nUsers, *concurrency)
	results := runSeckill(client, *baseURL, *voucherID, *nUsers, *concurrency, false)
	printSummary("oversell", results)

	if *stockCheck {
		stock, err := getStock(client, *baseURL, *voucherID)
		if err != nil {
			fmt.Println("stock check err:", err)
		} else {
			fmt.Println("final mirror stock:", stock)
		}
	}

	// 2) 一人一单测试：同一个 user 重复抢，期待只成功一次
	fmt.Println("\nstart duplicate test: same user (10001), 50 requests, concurrency 50")
	results2 := runSeckill(client, *baseURL, *voucherID, 50, 50, true)
	printSummary("duplicate", results2)
}

func runSeckill(client *http.Client, baseURL string, voucherID int64, total, concurrency int, sameUser bool) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			userID := int64(idx + 1)
			if sameUser {
				userID = 10001
			}
			results[idx] = seckillOnce(client, baseURL, voucherID, userID)
		}(i)
	}

	wg.Wait()
	return results
}

func seckillOnce(client *http.Client, baseURL string, voucherID, userID int64) Result {
	url := fmt.Sprintf("%s/api/voucher/seckill/%d", baseURL, voucherID)
	req, _ := http.NewRequest(http.MethodPost, url, nil)
	req.Header.Set("X-User-ID", fmt.Sprintf("%d", userID))

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var out struct {
		Data struct {
			Reason string `json:"reason"`
		} `json:"data"`
	}
	_ = json.Unmarshal(body, &out)
	return Result{Status: resp.StatusCode, Reason: out.Data.Reason}
}

// printSummary 聚合输出状态码与拒绝原因分布。
func printSummary(name string, results []Result) {
	statusCount := map[int]int{}
	reasonCount := map[string]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		statusCount[r.Status]++
		if r.Reason != "" {
			reasonCount[r.Reason]++
		}
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 401, 404, 429, 500} {
		if statusCount[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, statusCount[code])
		}
	}
	for reason, n := range reasonCount {
		fmt.Printf("  %s -> %d\n", reason, n)
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// getStock 查询 Redis 镜像库存，用于压测后校验是否出现超卖。
func getStock(client *http.Client, baseURL string, voucherID int64) (int64, error) {
	url := fmt.Sprintf("%s/api/seckill/stock/%d", baseURL, voucherID)
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int `json:"code"`
		Data struct {
			Stock int64 `json:"stock"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.Data.Stock, nil
}
