package exec

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/mathidot/polymarket-bot/internal/crypto"
	"github.com/mathidot/polymarket-bot/internal/domain"
	"github.com/mathidot/polymarket-bot/internal/platform/polymarket"
)

// usdcDecimals converts between dollars/shares and the 6-decimal base units
// the exchange contract uses.
const usdcDecimals = 1e6

// sigTypeProxy is the Polymarket proxy-wallet signature type: the EOA signs,
// the proxy wallet holds the funds.
const sigTypeProxy = 1

// LiveGateway signs orders with the wallet key and submits them to the CLOB
// as fill-or-kill, so a fill is always all-or-nothing at the limit price.
type LiveGateway struct {
	clob   *polymarket.ClobClient
	signer *crypto.Signer
	funder string // proxy wallet address holding USDC and positions
	logger *slog.Logger
}

// NewLiveGateway creates a gateway trading on behalf of the funder wallet.
func NewLiveGateway(clob *polymarket.ClobClient, signer *crypto.Signer, funder string, logger *slog.Logger) *LiveGateway {
	return &LiveGateway{
		clob:   clob,
		signer: signer,
		funder: funder,
		logger: logger.With(slog.String("component", "live_gateway")),
	}
}

// PlaceOrder signs and posts a FOK order. Venue declines surface as
// ErrOrderRejected; the caller decides whether and when to retry.
func (g *LiveGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	payload, shares, err := g.buildPayload(req)
	if err != nil {
		return domain.Fill{}, err
	}

	sig, err := g.signer.SignOrder(payload)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("exec/live: sign order: %w", err)
	}

	result, err := g.clob.PostOrder(ctx, polymarket.SignedOrder{
		Salt:          payload.Salt,
		TokenID:       payload.TokenID,
		MakerAmount:   payload.MakerAmount,
		TakerAmount:   payload.TakerAmount,
		Side:          clobSide(req.Side),
		Maker:         payload.Maker,
		Signature:     sig,
		Expiration:    payload.Expiration,
		Nonce:         payload.Nonce,
		SignatureType: payload.SignatureType,
	}, "FOK")
	if err != nil {
		return domain.Fill{}, fmt.Errorf("exec/live: %s order for %s: %w", req.Side, req.AssetID, err)
	}

	fill := fillFromResult(result, req, shares)
	g.logger.Info("order filled",
		slog.String("asset", req.AssetID),
		slog.String("side", string(req.Side)),
		slog.String("order_id", result.OrderID),
		slog.Float64("shares", fill.Shares),
		slog.Float64("avg_price", fill.AvgPrice))
	return fill, nil
}

// Balance returns the proxy wallet's available USDC.
func (g *LiveGateway) Balance(ctx context.Context) (float64, error) {
	return g.clob.CollateralBalance(ctx)
}

// buildPayload converts the request into EIP-712 order fields. For buys the
// wallet makes USDC and takes shares; for sells the reverse. Amounts round
// down so the order never promises more than the request.
func (g *LiveGateway) buildPayload(req domain.OrderRequest) (crypto.OrderPayload, float64, error) {
	if req.LimitPrice <= 0 {
		return crypto.OrderPayload{}, 0, fmt.Errorf("exec/live: %w: limit price %f", domain.ErrOrderRejected, req.LimitPrice)
	}

	var makerAmt, takerAmt int64
	var shares float64
	switch req.Side {
	case domain.OrderSideBuy:
		if req.NotionalUSD <= 0 {
			return crypto.OrderPayload{}, 0, fmt.Errorf("exec/live: %w: buy notional %f", domain.ErrOrderRejected, req.NotionalUSD)
		}
		shares = req.NotionalUSD / req.LimitPrice
		makerAmt = int64(math.Floor(req.NotionalUSD * usdcDecimals))
		takerAmt = int64(math.Floor(shares * usdcDecimals))
	case domain.OrderSideSell:
		if req.Shares <= 0 {
			return crypto.OrderPayload{}, 0, fmt.Errorf("exec/live: %w: sell shares %f", domain.ErrOrderRejected, req.Shares)
		}
		shares = req.Shares
		makerAmt = int64(math.Floor(req.Shares * usdcDecimals))
		takerAmt = int64(math.Floor(req.Shares * req.LimitPrice * usdcDecimals))
	default:
		return crypto.OrderPayload{}, 0, fmt.Errorf("exec/live: %w: unknown side %q", domain.ErrOrderRejected, req.Side)
	}

	return crypto.OrderPayload{
		Salt:          strconv.FormatInt(rand.Int64(), 10),
		Maker:         g.funder,
		Signer:        g.signer.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       req.AssetID,
		MakerAmount:   strconv.FormatInt(makerAmt, 10),
		TakerAmount:   strconv.FormatInt(takerAmt, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideIndex(req.Side),
		SignatureType: sigTypeProxy,
	}, shares, nil
}

// fillFromResult prefers the venue-reported amounts and falls back to the
// requested size at the limit price, which is exact for a FOK fill.
func fillFromResult(result polymarket.APIOrderResult, req domain.OrderRequest, shares float64) domain.Fill {
	fill := domain.Fill{Shares: shares, AvgPrice: req.LimitPrice}

	making, errM := strconv.ParseFloat(result.MakerAmount, 64)
	taking, errT := strconv.ParseFloat(result.TakerAmount, 64)
	if errM != nil || errT != nil || making <= 0 || taking <= 0 {
		return fill
	}
	if req.Side == domain.OrderSideBuy {
		// Made USDC, took shares.
		fill.Shares = taking / usdcDecimals
		if fill.Shares > 0 {
			fill.AvgPrice = (making / usdcDecimals) / fill.Shares
		}
	} else {
		// Made shares, took USDC.
		fill.Shares = making / usdcDecimals
		if fill.Shares > 0 {
			fill.AvgPrice = (taking / usdcDecimals) / fill.Shares
		}
	}
	return fill
}

func clobSide(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return "BUY"
	}
	return "SELL"
}

func sideIndex(side domain.OrderSide) int {
	if side == domain.OrderSideBuy {
		return 0
	}
	return 1
}
