// Package contracts holds the ABI definitions of the edition minting contracts.
package contracts

// EditionsV5ABI is the legacy campaign contract. getCampaign returns ten values with
// active/closed in the last two positions.
const EditionsV5ABI = `[
  {"type":"function","name":"totalCampaigns","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getCampaign","stateMutability":"view","inputs":[{"name":"campaignId","type":"uint256"}],"outputs":[
    {"name":"category","type":"string"},
    {"name":"baseURI","type":"string"},
    {"name":"goal","type":"uint256"},
    {"name":"grossRaised","type":"uint256"},
    {"name":"netRaised","type":"uint256"},
    {"name":"editionsMinted","type":"uint256"},
    {"name":"maxEditions","type":"uint256"},
    {"name":"pricePerEdition","type":"uint256"},
    {"name":"active","type":"bool"},
    {"name":"closed","type":"bool"}
  ]},
  {"type":"function","name":"mintSingleEdition","stateMutability":"payable","inputs":[{"name":"campaignId","type":"uint256"}],"outputs":[{"name":"editionId","type":"uint256"}]},
  {"type":"function","name":"mintSingleEditionWithGratuity","stateMutability":"payable","inputs":[{"name":"campaignId","type":"uint256"},{"name":"gratuityAmount","type":"uint256"}],"outputs":[{"name":"editionId","type":"uint256"}]},
  {"type":"event","name":"EditionMinted","anonymous":false,"inputs":[
    {"name":"campaignId","type":"uint256","indexed":true},
    {"name":"editionId","type":"uint256","indexed":true},
    {"name":"donor","type":"address","indexed":true},
    {"name":"editionNumber","type":"uint256","indexed":false},
    {"name":"amountPaid","type":"uint256","indexed":false}
  ]},
  {"type":"error","name":"CampaignNotActive","inputs":[]},
  {"type":"error","name":"CampaignClosed","inputs":[]},
  {"type":"error","name":"MaxEditionsReached","inputs":[]},
  {"type":"error","name":"InsufficientPayment","inputs":[{"name":"required","type":"uint256"},{"name":"sent","type":"uint256"}]}
]`

// EditionsV6ABI adds payout addresses and the immediate-payout flag to getCampaign,
// which moves active/closed to positions 10 and 11.
const EditionsV6ABI = `[
  {"type":"function","name":"totalCampaigns","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getCampaign","stateMutability":"view","inputs":[{"name":"campaignId","type":"uint256"}],"outputs":[
    {"name":"category","type":"string"},
    {"name":"baseURI","type":"string"},
    {"name":"goal","type":"uint256"},
    {"name":"grossRaised","type":"uint256"},
    {"name":"netRaised","type":"uint256"},
    {"name":"editionsMinted","type":"uint256"},
    {"name":"maxEditions","type":"uint256"},
    {"name":"pricePerEdition","type":"uint256"},
    {"name":"nonprofit","type":"address"},
    {"name":"submitter","type":"address"},
    {"name":"active","type":"bool"},
    {"name":"closed","type":"bool"},
    {"name":"immediatePayout","type":"bool"}
  ]},
  {"type":"function","name":"mintSingleEdition","stateMutability":"payable","inputs":[{"name":"campaignId","type":"uint256"}],"outputs":[{"name":"editionId","type":"uint256"}]},
  {"type":"function","name":"mintSingleEditionWithGratuity","stateMutability":"payable","inputs":[{"name":"campaignId","type":"uint256"},{"name":"gratuityAmount","type":"uint256"}],"outputs":[{"name":"editionId","type":"uint256"}]},
  {"type":"event","name":"EditionMinted","anonymous":false,"inputs":[
    {"name":"campaignId","type":"uint256","indexed":true},
    {"name":"editionId","type":"uint256","indexed":true},
    {"name":"donor","type":"address","indexed":true},
    {"name":"editionNumber","type":"uint256","indexed":false},
    {"name":"amountPaid","type":"uint256","indexed":false}
  ]},
  {"type":"error","name":"CampaignNotActive","inputs":[]},
  {"type":"error","name":"CampaignClosed","inputs":[]},
  {"type":"error","name":"MaxEditionsReached","inputs":[]},
  {"type":"error","name":"InsufficientPayment","inputs":[{"name":"required","type":"uint256"},{"name":"sent","type":"uint256"}]},
  {"type":"error","name":"PayoutFailed","inputs":[]}
]`
